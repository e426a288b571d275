// Package docs registers the generated OpenAPI spec for the facilitator's
// /swagger/* endpoint. In a full build this file is regenerated by `swag
// init` from the @-annotations on the handler methods in api/server.go; the
// template below is the hand-maintained seed swag init would otherwise produce.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "x402 Facilitator API",
        "description": "Verification and settlement service for x402 HTTP micropayments.",
        "version": "1.0"
    },
    "paths": {},
    "definitions": {}
}`

var swaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "x402 Facilitator API",
	Description:      "Verification and settlement service for x402 HTTP micropayments.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(swaggerInfo.InstanceName(), swaggerInfo)
}
