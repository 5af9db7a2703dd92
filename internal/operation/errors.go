package operation

import (
	"fmt"

	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
)

func parsingErr(format string, args ...any) error {
	return gatewayerr.New(gatewayerr.KindOperationParsingError, fmt.Sprintf(format, args...))
}

func validationErr(format string, args ...any) error {
	return gatewayerr.New(gatewayerr.KindOperationValidationError, fmt.Sprintf(format, args...))
}

func variableErr(format string, args ...any) error {
	return gatewayerr.New(gatewayerr.KindVariableError, fmt.Sprintf(format, args...))
}
