package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/godbus/dbus/v5"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"thumbshift/internal/filter"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether any error concerns field or one of its children.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") || strings.HasPrefix(err.Field, field+"[") {
			return true
		}
	}
	return false
}

// ErrInvalidConfig is wrapped by schema compilation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://thumbshift.org/schema/config.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaURL)
})

// ValidateConfig checks c against the embedded JSON schema and then the
// cross-field rules the schema cannot express.
func ValidateConfig(c *Config) error {
	errs := validateSchema(c)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}
	errs = append(errs, validateFilter(&c.Filter)...)
	errs = append(errs, validateKeymap(&c.Keymap)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateTrace(&c.Trace)...)
	errs = append(errs, validateDBus(&c.DBus)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateSchema(c *Config) ValidationErrors {
	schema, err := compiledSchema()
	if err != nil {
		return ValidationErrors{{Field: "$schema", Message: fmt.Errorf("%w: %v", ErrInvalidConfig, err).Error()}}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return ValidationErrors{{Field: "$", Message: "encode: " + err.Error()}}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return ValidationErrors{{Field: "$", Message: "decode: " + err.Error()}}
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return ValidationErrors{{Field: "$", Message: err.Error()}}
	}
	var errs ValidationErrors
	collectSchemaErrors(ve, &errs)
	return errs
}

// collectSchemaErrors flattens the leaves of a schema error tree.
func collectSchemaErrors(ve *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(ve.Causes) == 0 {
		*errs = append(*errs, ValidationError{
			Field:   pointerToField(ve.InstanceLocation),
			Message: ve.Message,
		})
		return
	}
	for _, cause := range ve.Causes {
		collectSchemaErrors(cause, errs)
	}
}

// pointerToField turns "/filter/special_doubles/1" into
// "filter.special_doubles[1]".
func pointerToField(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return "$"
	}
	var b strings.Builder
	for i, part := range strings.Split(ptr, "/") {
		if isIndex(part) {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validateFilter(f *FilterConfig) ValidationErrors {
	var errs ValidationErrors

	if f.TimeoutUs <= 0 {
		errs = append(errs, ValidationError{Field: "filter.timeout_us", Message: "must be positive"})
	}
	if f.OverlapUs <= 0 {
		errs = append(errs, ValidationError{Field: "filter.overlap_us", Message: "must be positive"})
	}
	if f.MaxWaitUs <= 0 {
		errs = append(errs, ValidationError{Field: "filter.maxwait_us", Message: "must be positive"})
	}
	if f.OverlapUs > f.TimeoutUs {
		errs = append(errs, ValidationError{
			Field:   "filter.overlap_us",
			Message: fmt.Sprintf("overlap %dus exceeds timeout %dus", f.OverlapUs, f.TimeoutUs),
		})
	}
	if f.MaxWaitUs < f.TimeoutUs {
		errs = append(errs, ValidationError{
			Field:   "filter.maxwait_us",
			Message: fmt.Sprintf("maxwait %dus is shorter than timeout %dus", f.MaxWaitUs, f.TimeoutUs),
		})
	}

	for i, name := range f.SpecialDoubles {
		if msg := checkSpecialDouble(name); msg != "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("filter.special_doubles[%d]", i),
				Message: msg,
			})
		}
	}
	return errs
}

// checkSpecialDouble returns a complaint about name, or "" when it is a
// canonical combo name.
func checkSpecialDouble(name string) string {
	if name == filter.BothShifts {
		return ""
	}
	inner, ok := strings.CutPrefix(name, "[")
	if ok {
		inner, ok = strings.CutSuffix(inner, "]")
	}
	if !ok || utf8.RuneCountInString(inner) != 2 {
		return fmt.Sprintf("%q is not of the form [xy] or %s", name, filter.BothShifts)
	}
	lo, size := utf8.DecodeRuneInString(inner)
	hi, _ := utf8.DecodeRuneInString(inner[size:])
	if !unicode.IsPrint(lo) || !unicode.IsPrint(hi) || lo == ' ' || hi == ' ' {
		return fmt.Sprintf("%q must name two printable characters", name)
	}
	if lo == hi {
		return fmt.Sprintf("%q repeats one key", name)
	}
	if hi < lo {
		return fmt.Sprintf("%q is not canonical, write [%c%c]", name, hi, lo)
	}
	return ""
}

func validateKeymap(k *KeymapConfig) ValidationErrors {
	var errs ValidationErrors

	if len(k.LeftThumb) == 0 {
		errs = append(errs, ValidationError{Field: "keymap.left_thumb", Message: "at least one key is required"})
	}
	if len(k.RightThumb) == 0 {
		errs = append(errs, ValidationError{Field: "keymap.right_thumb", Message: "at least one key is required"})
	}

	left := make(map[string]bool, len(k.LeftThumb))
	for _, name := range k.LeftThumb {
		left[name] = true
	}
	for i, name := range k.RightThumb {
		if left[name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("keymap.right_thumb[%d]", i),
				Message: fmt.Sprintf("%s is also a left thumb key", name),
			})
		}
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Message: "file path is required when output includes a file",
		})
	}
	if (l.Output == "file" || l.Output == "both") && l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	return errs
}

func validateTrace(t *TraceConfig) ValidationErrors {
	if t.Enabled && t.Path == "" {
		return ValidationErrors{{Field: "trace.path", Message: "path is required when tracing is enabled"}}
	}
	return nil
}

func validateDBus(d *DBusConfig) ValidationErrors {
	var errs ValidationErrors

	if !validBusName(d.BusName) {
		errs = append(errs, ValidationError{
			Field:   "dbus.bus_name",
			Message: fmt.Sprintf("invalid well-known bus name %q", d.BusName),
		})
	}
	if !dbus.ObjectPath(d.ObjectPath).IsValid() {
		errs = append(errs, ValidationError{
			Field:   "dbus.object_path",
			Message: fmt.Sprintf("invalid object path %q", d.ObjectPath),
		})
	}
	return errs
}

// validBusName applies the D-Bus rules for well-known names: two or more
// dot-separated elements of [A-Za-z0-9_-], none starting with a digit.
func validBusName(name string) bool {
	if len(name) == 0 || len(name) > 255 {
		return false
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if p == "" || (p[0] >= '0' && p[0] <= '9') {
			return false
		}
		for _, r := range p {
			if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return false
			}
		}
	}
	return true
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	if !m.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(m.Addr); err != nil {
		return ValidationErrors{{Field: "metrics.addr", Message: err.Error()}}
	}
	return nil
}
