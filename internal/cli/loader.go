package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"

	"github.com/roach88/xfilter/internal/compiler"
	"github.com/roach88/xfilter/internal/ir"
)

// LoadMode controls how errors are handled during dashboard loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains a loaded dashboard.
type LoadResult struct {
	Spec      *ir.DashboardSpec
	Warnings  []compiler.CycleWarning
	FileCount int // Number of CUE files found
}

// LoadError represents an error that occurred during dashboard loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
	Line    int       // line reported by validation, when Pos is unset
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail())
}

// Detail is the message prefixed with its source position, if known.
func (e *LoadError) Detail() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// LoadDashboard loads a CUE dashboard from a file or package directory,
// compiles it and validates it. The spec is returned only when there are
// no errors. With LoadModeCollectAll every validation error is returned;
// with LoadModeFailFast only the first.
func LoadDashboard(path string, mode LoadMode) (*LoadResult, []error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("dashboard not found: %s", path)}}
		}
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing dashboard: %v", err)}}
	}

	value, files, err := compiler.LoadValue(path)
	if err != nil {
		code := ErrCodeLoadFailed
		if files == 0 {
			code = ErrCodeNoFiles
		}
		return nil, []error{convertCompileError(err, code)}
	}

	spec, err := compiler.CompileDashboard(value)
	if err != nil {
		return nil, []error{convertCompileError(err, ErrCodeBuildFailed)}
	}

	if verrs := compiler.Validate(spec); len(verrs) > 0 {
		if mode == LoadModeFailFast {
			verrs = verrs[:1]
		}
		errs := make([]error, len(verrs))
		for i, v := range verrs {
			errs[i] = &LoadError{Code: v.Code, Message: fmt.Sprintf("%s: %s", v.Field, v.Message), Line: v.Line}
		}
		return &LoadResult{FileCount: files}, errs
	}

	return &LoadResult{
		Spec:      spec,
		Warnings:  compiler.AnalyzeCycles(spec),
		FileCount: files,
	}, nil
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, code string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    code,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: code, Message: err.Error()}
}

// Error code constants - unified across all CLI commands. Validation
// failures carry the compiler's E1xx codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // Dashboard compile failed
	ErrCodeConnect     = "E009" // Connector setup failed
)
