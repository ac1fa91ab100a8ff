package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dreschagin/plugin-webroot/internal/webroot"
)

// ManifestFiles are the manifest names looked up in a plugin root, in order.
var ManifestFiles = []string{"plugin.yml", "plugin.yaml"}

// Manifest describes a plugin. Every field is optional.
type Manifest struct {
	Name        string          `yaml:"name" validate:"omitempty,mountname"`
	Description string          `yaml:"description"`
	Webroot     WebrootManifest `yaml:"webroot"`
}

// WebrootManifest overrides the defaults of the registered webroot.
type WebrootManifest struct {
	// Dir is relative to the plugin root, absolute, or an s3:// URL.
	Dir      string        `yaml:"dir"`
	Index    string        `yaml:"index" validate:"omitempty,excludesall=/\\"`
	SPA      bool          `yaml:"spa"`
	MaxAge   time.Duration `yaml:"max_age" validate:"gte=0"`
	Dotfiles bool          `yaml:"dotfiles"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("mountname", func(fl validator.FieldLevel) bool {
		return webroot.ValidName(fl.Field().String())
	})
	return v
}

// ReadManifest loads the manifest from root. A plugin without a manifest
// gets the zero Manifest.
func ReadManifest(root string) (Manifest, error) {
	for _, name := range ManifestFiles {
		manifestPath := filepath.Join(root, name)
		data, err := os.ReadFile(manifestPath)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Manifest{}, fmt.Errorf("read %s: %w", manifestPath, err)
		}
		return ParseManifest(manifestPath, data)
	}
	return Manifest{}, nil
}

// ParseManifest decodes and validates a manifest; source is used in errors.
func ParseManifest(source string, data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", source, err)
	}
	if err := validate.Struct(&m); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
			e := validationErrs[0]
			return Manifest{}, fmt.Errorf("%s: %s: validation failed on '%s' tag (value: %v)",
				source, e.Namespace(), e.Tag(), e.Value())
		}
		return Manifest{}, fmt.Errorf("%s: %w", source, err)
	}
	return m, nil
}
