package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Image is the symbol information of the program the agent pretends to
// debug: a line table for the main executable and for every module that
// can be loaded later.
type Image struct {
	Lines   []LineEntry `yaml:"lines"`
	Modules []Module    `yaml:"modules,omitempty"`
}

// LineEntry maps a source line to the address of its first instruction.
// The same line may appear several times, once per inlined copy.
type LineEntry struct {
	File     string `yaml:"file"`
	Line     int    `yaml:"line"`
	Addr     uint64 `yaml:"addr"`
	Function string `yaml:"function,omitempty"`
}

// Module is a shared library that is not loaded when the agent starts.
type Module struct {
	Name  string      `yaml:"name"`
	Lines []LineEntry `yaml:"lines"`
}

// ParseImage decodes a YAML image.
func ParseImage(b []byte) (*Image, error) {
	var img Image
	if err := yaml.Unmarshal(b, &img); err != nil {
		return nil, fmt.Errorf("unable to decode image: %v", err)
	}
	seen := make(map[string]bool, len(img.Modules))
	for _, m := range img.Modules {
		if m.Name == "" {
			return nil, fmt.Errorf("module without a name in image")
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("module %q defined twice", m.Name)
		}
		seen[m.Name] = true
	}
	return &img, nil
}

// LoadImage reads a YAML image from path.
func LoadImage(path string) (*Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseImage(b)
}
