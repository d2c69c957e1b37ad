package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/xfilter/internal/ir"
)

// LoadValue builds the CUE value at path. A directory is loaded as one CUE
// package instance; a file is compiled on its own. It also returns the
// number of .cue files that went into the value.
func LoadValue(path string) (cue.Value, int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return cue.Value{}, 0, err
	}

	if !info.IsDir() {
		src, err := os.ReadFile(path)
		if err != nil {
			return cue.Value{}, 0, err
		}
		v, err := CompileSource(path, src)
		return v, 1, err
	}

	files, err := FindCUEFiles(path)
	if err != nil {
		return cue.Value{}, 0, fmt.Errorf("scanning %s: %w", path, err)
	}
	if len(files) == 0 {
		return cue.Value{}, 0, fmt.Errorf("no CUE files found in %s", path)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return cue.Value{}, len(files), fmt.Errorf("no CUE instances loaded")
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, len(files), fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, len(files), formatCUEError(err)
	}
	return value, len(files), nil
}

// CompileSource builds a CUE value from source text. filename is only used
// for positions in error messages.
func CompileSource(filename string, src []byte) (cue.Value, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// LoadDashboard loads, compiles and validates the dashboard at path.
// Validation errors are joined into the returned error.
func LoadDashboard(path string) (*ir.DashboardSpec, error) {
	v, _, err := LoadValue(path)
	if err != nil {
		return nil, err
	}
	return compileAndValidate(v)
}

// LoadDashboardSource is LoadDashboard for in-memory CUE source.
func LoadDashboardSource(filename string, src []byte) (*ir.DashboardSpec, error) {
	v, err := CompileSource(filename, src)
	if err != nil {
		return nil, err
	}
	return compileAndValidate(v)
}

func compileAndValidate(v cue.Value) (*ir.DashboardSpec, error) {
	spec, err := CompileDashboard(v)
	if err != nil {
		return nil, err
	}
	if errs := Validate(spec); len(errs) > 0 {
		return nil, &ValidationErrors{Errors: errs}
	}
	return spec, nil
}

// ValidationErrors carries every validation failure of one dashboard.
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e.Errors[0].Error(), len(e.Errors)-1)
}
