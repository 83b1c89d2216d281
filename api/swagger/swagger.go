package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Taskora API",
        "description": "Account registration, authentication and session lifecycle",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {"name": "Authentication", "description": "Signup, login, refresh, logout"}
    ],
    "paths": {
        "/auth/signup": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Register account",
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Validation error"},
                    "409": {"description": "Email already registered"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate account",
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh token pair",
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Invalid token"}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Logout session",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Get current account",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Invalid token"}
                }
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
