package api

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the routes this server
// mounts. Admin paths appear only when admin auth is configured.
func buildOpenAPIDoc(admin bool) map[string]any {
	paths := map[string]any{
		"/register": map[string]any{
			"post": operation("register", "Register or refresh a worker", jsonBody("RegisterRequest"),
				"200", "Registered", "400", "Missing identity or credential"),
		},
		"/poll/{credential}": map[string]any{
			"get": withParams(operation("poll", "Fetch the next queued work item without blocking", nil,
				"200", "Work item or {waiting:true}", "404", "Worker not registered"), "credential"),
		},
		"/response/{credential}/{requestId}": map[string]any{
			"post": withParams(operation("postResult", "Post the outcome of a work item", jsonBody("ResultRequest"),
				"200", "Stored", "400", "Malformed body", "404", "Worker not registered"), "credential", "requestId"),
		},
		"/api/query": map[string]any{
			"post": operation("query", "Submit a query and wait for the worker's answer", jsonBody("QueryRequest"),
				"200", "Worker answered (response or error)",
				"400", "Missing credential or message",
				"404", "Worker not registered or timed out",
				"429", "Rate limited",
				"503", "Worker queue full",
				"504", "No answer before the query deadline"),
		},
		"/api/status/{credential}": map[string]any{
			"get": withParams(operation("status", "Worker liveness", nil,
				"200", "Status", "404", "Worker not registered"), "credential"),
		},
		"/health": map[string]any{
			"get": operation("health", "Broker health", nil, "200", "OK"),
		},
	}

	if admin {
		paths["/events"] = map[string]any{
			"get": secured(operation("events", "SSE stream of broker events", nil, "200", "text/event-stream")),
		}
		paths["/admin/workers"] = map[string]any{
			"get": secured(operation("listWorkers", "List worker sessions", nil, "200", "Workers")),
		}
		paths["/admin/workers/{credential}"] = map[string]any{
			"delete": secured(withParams(operation("disconnectWorker", "Evict a worker session", nil,
				"200", "Evicted", "404", "Worker not registered"), "credential")),
		}
		paths["/admin/history"] = map[string]any{
			"get": secured(operation("history", "Recent finished queries", nil,
				"200", "Journal entries", "503", "Journal disabled")),
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "relaygw",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

// operation builds an operation object; codes alternates status code and description.
func operation(id, summary string, body map[string]any, codes ...string) map[string]any {
	responses := map[string]any{}
	for i := 0; i+1 < len(codes); i += 2 {
		responses[codes[i]] = map[string]any{"description": codes[i+1]}
	}
	op := map[string]any{
		"operationId": id,
		"summary":     summary,
		"responses":   responses,
	}
	if body != nil {
		op["requestBody"] = body
	}
	return op
}

func jsonBody(name string) map[string]any {
	return map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{"title": name, "type": "object"},
			},
		},
	}
}

func withParams(op map[string]any, names ...string) map[string]any {
	params := make([]any, 0, len(names))
	for _, n := range names {
		params = append(params, map[string]any{
			"name":     n,
			"in":       "path",
			"required": true,
			"schema":   map[string]any{"type": "string"},
		})
	}
	op["parameters"] = params
	return op
}

func secured(op map[string]any) map[string]any {
	op["security"] = []any{map[string]any{"BearerAuth": []string{}}}
	return op
}
