// Package docs carries the Swagger document served under /swagger/.
// It mirrors the @Router annotations on the handlers.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "description": "Reports whether the order store (and Redis, when configured) is reachable",
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/api/payments/order": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["payments"],
                "summary": "Open a provider order for checkout",
                "parameters": [
                    {"description": "Checkout data", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CheckoutRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/payments/verify": {
            "post": {
                "description": "Verifies the payment signature relayed by the browser and admits the order once",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["payments"],
                "summary": "Confirm a checkout payment",
                "parameters": [
                    {"description": "Payment confirmation", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.VerifyRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/payments/webhook": {
            "post": {
                "description": "Authenticates the raw body against X-Razorpay-Signature and admits captured payments",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["payments"],
                "summary": "Receive a payment provider webhook",
                "parameters": [
                    {"type": "string", "description": "HMAC-SHA256 of the body", "name": "X-Razorpay-Signature", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/track/{awb}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["tracking"],
                "summary": "Look up shipment tracking by AWB code",
                "parameters": [
                    {"type": "string", "description": "Air waybill code", "name": "awb", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/admin/orders/{paymentID}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Get the order recorded for a payment",
                "parameters": [
                    {"type": "string", "description": "Provider payment id", "name": "paymentID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/admin/orders/{paymentID}/reprocess": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Shipping, documents and the confirmation email are retried in the background",
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Queue another fulfillment run for an order",
                "parameters": [
                    {"type": "string", "description": "Provider payment id", "name": "paymentID", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"type": "object", "additionalProperties": true}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/admin/orders/{paymentID}/email-logs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "List the notification audit trail of an order",
                "parameters": [
                    {"type": "string", "description": "Provider payment id", "name": "paymentID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "type": {"type": "string"}
            }
        },
        "handlers.FormData": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "email": {"type": "string"},
                "phone": {"type": "string"},
                "street": {"type": "string"},
                "city": {"type": "string"},
                "state": {"type": "string"},
                "pincode": {"type": "string"},
                "country": {"type": "string"}
            }
        },
        "models.LineItem": {
            "type": "object",
            "required": ["name"],
            "properties": {
                "slug": {"type": "string"},
                "name": {"type": "string"},
                "price": {"type": "integer"},
                "quantity": {"type": "integer"}
            }
        },
        "handlers.VerifyRequest": {
            "type": "object",
            "properties": {
                "razorpay_order_id": {"type": "string"},
                "razorpay_payment_id": {"type": "string"},
                "razorpay_signature": {"type": "string"},
                "cartItems": {"type": "array", "items": {"$ref": "#/definitions/models.LineItem"}},
                "formData": {"$ref": "#/definitions/handlers.FormData"},
                "total": {"type": "integer"}
            }
        },
        "handlers.CheckoutRequest": {
            "type": "object",
            "required": ["cartItems"],
            "properties": {
                "amount": {"type": "integer"},
                "formData": {"$ref": "#/definitions/handlers.FormData"},
                "cartItems": {"type": "array", "items": {"$ref": "#/definitions/models.LineItem"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Storefront Fulfillment API",
	Description:      "Payment confirmation, order fulfillment and shipment tracking for the storefront.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
