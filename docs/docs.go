// Package docs 收件箱同步服务的 Swagger 文档，与处理器上的注解保持一致。
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
        "/api/v1/viewers": {
            "post": {
                "description": "注册一个新的收件箱查看者并立即申请临时邮箱",
                "produces": ["application/json"],
                "tags": ["Viewers"],
                "summary": "创建查看者",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httptransport.viewerResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/httptransport.Response"}}
                }
            }
        },
        "/api/v1/viewers/current": {
            "delete": {
                "security": [{"ViewerToken": []}],
                "tags": ["Viewers"],
                "summary": "注销当前查看者",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.Response"}}
                }
            }
        },
        "/api/v1/inbox": {
            "get": {
                "security": [{"ViewerToken": []}],
                "description": "返回当前会话、邮件列表与倒计时，q 参数按发件人或主题筛选",
                "produces": ["application/json"],
                "tags": ["Inbox"],
                "summary": "获取收件箱快照",
                "parameters": [
                    {"type": "string", "description": "筛选关键字", "name": "q", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Snapshot"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.Response"}}
                }
            }
        },
        "/api/v1/inbox/session": {
            "post": {
                "security": [{"ViewerToken": []}],
                "description": "申请新的临时邮箱并取代当前会话，原邮件列表被清空",
                "produces": ["application/json"],
                "tags": ["Inbox"],
                "summary": "生成新地址",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Snapshot"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.Response"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/httptransport.Response"}}
                }
            }
        },
        "/api/v1/inbox/refresh": {
            "post": {
                "security": [{"ViewerToken": []}],
                "produces": ["application/json"],
                "tags": ["Inbox"],
                "summary": "立即刷新",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Snapshot"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.Response"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/httptransport.Response"}}
                }
            }
        },
        "/api/v1/inbox/messages/{id}/expand": {
            "post": {
                "security": [{"ViewerToken": []}],
                "produces": ["application/json"],
                "tags": ["Inbox"],
                "summary": "加载邮件正文",
                "parameters": [
                    {"type": "string", "description": "邮件ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.expandResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.Response"}}
                }
            }
        }
    },
    "definitions": {
        "domain.MessageBody": {
            "type": "object",
            "properties": {"html": {"type": "string"}}
        },
        "domain.Sender": {
            "type": "object",
            "properties": {"name": {"type": "string"}, "address": {"type": "string"}}
        },
        "domain.Message": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "from": {"$ref": "#/definitions/domain.Sender"},
                "subject": {"type": "string"},
                "intro": {"type": "string"},
                "receivedAt": {"type": "string"},
                "seen": {"type": "boolean"},
                "body": {"$ref": "#/definitions/domain.MessageBody"},
                "bodyState": {"type": "string", "enum": ["none", "loading", "loaded", "failed"]}
            }
        },
        "domain.SessionView": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "address": {"type": "string"},
                "createdAt": {"type": "string"},
                "expiresAt": {"type": "string"},
                "budgetSeconds": {"type": "integer"},
                "expired": {"type": "boolean"}
            }
        },
        "domain.Snapshot": {
            "type": "object",
            "properties": {
                "session": {"$ref": "#/definitions/domain.SessionView"},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/domain.Message"}},
                "remainingSeconds": {"type": "integer"},
                "pollStatus": {"type": "string", "enum": ["idle", "fetching", "degraded"]},
                "state": {"type": "string", "enum": ["no_session", "empty", "ready", "degraded", "expired"]},
                "creating": {"type": "boolean"},
                "lastError": {"type": "string"},
                "consecutiveFailures": {"type": "integer"},
                "version": {"type": "integer"}
            }
        },
        "httptransport.Response": {
            "type": "object",
            "properties": {"code": {"type": "integer"}, "msg": {"type": "string"}, "data": {}}
        },
        "httptransport.expandResponse": {
            "type": "object",
            "properties": {
                "messageId": {"type": "string"},
                "body": {"$ref": "#/definitions/domain.MessageBody"}
            }
        },
        "httptransport.viewerResponse": {
            "type": "object",
            "properties": {
                "viewerId": {"type": "string"},
                "token": {"type": "string"},
                "expiresAt": {"type": "string"},
                "snapshot": {"$ref": "#/definitions/domain.Snapshot"}
            }
        }
    },
    "securityDefinitions": {
        "ViewerToken": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo 文档元信息，可在启动时覆盖 Host 等字段
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Inbox Sync API",
	Description:      "临时邮箱收件箱同步服务：查看者、收件箱快照与正文加载",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
