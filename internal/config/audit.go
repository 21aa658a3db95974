package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/auditcore/internal/data"
)

// Audit configures one audit.
type Audit struct {
	AuditName       string   `yaml:"audit_name" json:"audit_name,omitempty"`
	Targets         []string `yaml:"targets" json:"targets"`
	EnabledPlugins  []string `yaml:"enabled_plugins" json:"enabled_plugins,omitempty"`
	DisabledPlugins []string `yaml:"disabled_plugins" json:"disabled_plugins,omitempty"`
	// MaxLinks caps the URLs followed; zero means unlimited.
	MaxLinks int      `yaml:"max_links" json:"max_links,omitempty"`
	Reports  []string `yaml:"reports" json:"reports,omitempty"`
	// Database is the audit database path. Empty derives it from the name.
	Database  string `yaml:"database" json:"database,omitempty"`
	OnlyVulns bool   `yaml:"only_vulns" json:"only_vulns,omitempty"`
}

// Validation error codes.
const (
	ErrSchema          = "E201" // value rejected by the audit schema
	ErrInvalidTarget   = "E202" // target is not a usable URL
	ErrPluginConflict  = "E203" // plugin both enabled and disabled
	ErrSchemaUnusable  = "E204" // embedded schema failed to compile
	ErrEncodingFailure = "E205" // audit could not be encoded for checking
)

// ValidationError is one problem found in an audit configuration.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

//go:embed schema.cue
var schemaSource string

// A cue.Context is not safe for concurrent use.
var schema struct {
	once  sync.Once
	mu    sync.Mutex
	ctx   *cue.Context
	audit cue.Value
	err   error
}

func loadSchema() error {
	schema.once.Do(func() {
		schema.ctx = cuecontext.New()
		v := schema.ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schema.err = err
			return
		}
		schema.audit = v.LookupPath(cue.ParsePath("#Audit"))
		schema.err = schema.audit.Err()
	})
	return schema.err
}

// ValidateAudit checks a against the audit schema and the rules the schema
// cannot express. It returns every problem found.
func ValidateAudit(a Audit) []ValidationError {
	errs := validateSchema(a)

	for i, t := range a.Targets {
		if _, err := data.NewURL(t); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("targets[%d]", i),
				Message: err.Error(),
				Code:    ErrInvalidTarget,
			})
		}
	}

	for _, name := range a.EnabledPlugins {
		if name != "all" && slices.Contains(a.DisabledPlugins, name) {
			errs = append(errs, ValidationError{
				Field:   "enabled_plugins",
				Message: fmt.Sprintf("plugin %q is both enabled and disabled", name),
				Code:    ErrPluginConflict,
			})
		}
	}
	return errs
}

func validateSchema(a Audit) []ValidationError {
	if err := loadSchema(); err != nil {
		return []ValidationError{{Field: "schema", Message: err.Error(), Code: ErrSchemaUnusable}}
	}

	b, err := json.Marshal(a)
	if err != nil {
		return []ValidationError{{Field: "audit", Message: err.Error(), Code: ErrEncodingFailure}}
	}

	schema.mu.Lock()
	defer schema.mu.Unlock()

	v := schema.ctx.CompileBytes(b, cue.Filename("audit.json"))
	if err := v.Err(); err != nil {
		return []ValidationError{{Field: "audit", Message: err.Error(), Code: ErrEncodingFailure}}
	}
	err = schema.audit.Unify(v).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		field := strings.Join(e.Path(), ".")
		if field == "" {
			field = "audit"
		}
		format, args := e.Msg()
		out = append(out, ValidationError{
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    ErrSchema,
		})
	}
	return out
}
