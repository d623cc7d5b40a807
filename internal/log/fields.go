package log

import "sort"

// Field names shared by every component.
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldQuery       = "query"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldUserAgent   = "user_agent"
	FieldReferer     = "referer"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldErrorType   = "error_type"
	FieldOperation   = "operation"
	FieldYear        = "year"
	FieldMonth       = "month"
	FieldGoalID      = "goal_id"
	FieldExpenseID   = "expense_id"
	FieldExpenseName = "expense_name"
	FieldAmount      = "amount"
	FieldCacheKey    = "cache_key"
	FieldCacheScope  = "cache_scope"
	FieldUserID      = "user_id"
)

// Component names.
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentAPI       = "api_client"
	ComponentBudget    = "budget"
	ComponentDashboard = "dashboard"
	ComponentSession   = "session"
	ComponentStorage   = "storage"
	ComponentDevAPI    = "devapi"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
)

// Operation names.
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpLogin    = "login"
	OpSignUp   = "sign_up"
	OpExport   = "export"
	OpRender   = "render"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// Error categories for the "error_type" field.
const (
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeAuth          = "auth_error"
)

// LogFields collects attributes for one record. Empty strings are dropped
// when the record is written.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) set(kv ...any) LogFields {
	for i := 0; i+1 < len(kv); i += 2 {
		f[kv[i].(string)] = kv[i+1]
	}
	return f
}

func (f LogFields) WithComponent(c string) LogFields  { return f.set(FieldComponent, c) }
func (f LogFields) WithRequestID(id string) LogFields { return f.set(FieldRequestID, id) }
func (f LogFields) WithClientIP(ip string) LogFields  { return f.set(FieldClientIP, ip) }
func (f LogFields) WithOperation(op string) LogFields { return f.set(FieldOperation, op) }

func (f LogFields) WithError(err error) LogFields {
	if err == nil {
		return f
	}
	return f.set(FieldError, err.Error())
}

// WithExpense records the expense being changed; id 0 means not yet known.
func (f LogFields) WithExpense(id int64, name, amount string, goalID int64) LogFields {
	if id != 0 {
		f[FieldExpenseID] = id
	}
	return f.set(FieldExpenseName, name, FieldAmount, amount, FieldGoalID, goalID)
}

func (f LogFields) WithMonth(year, month int) LogFields {
	return f.set(FieldYear, year, FieldMonth, month)
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent, referer string) LogFields {
	return f.set(FieldMethod, method, FieldPath, path, FieldQuery, query,
		FieldUserAgent, userAgent, FieldReferer, referer)
}

func (f LogFields) WithHTTPResponse(status int, durationMs int64, success bool) LogFields {
	return f.set(FieldStatusCode, status, FieldDuration, durationMs, FieldSuccess, success)
}

// ToSlice flattens the fields into sorted slog key/value pairs.
func (f LogFields) ToSlice() []any {
	keys := make([]string, 0, len(f))
	for k, v := range f {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		out = append(out, k, f[k])
	}
	return out
}
