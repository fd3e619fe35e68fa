package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"trading-simulator/internal/model"
)

// symbolsFile is the layout of symbols.yaml.
type symbolsFile struct {
	Symbols []model.Symbol `yaml:"symbols"`
}

// LoadSymbols reads the symbol catalog from a YAML file.
func LoadSymbols(path string) ([]model.Symbol, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open symbols file")
	}
	defer func() {
		_ = file.Close()
	}()

	var f symbolsFile
	decoder := yaml.NewDecoder(file)
	decoder.SetStrict(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return validateSymbols(f.Symbols)
}

func validateSymbols(symbols []model.Symbol) ([]model.Symbol, error) {
	if len(symbols) == 0 {
		return nil, errors.Wrap(model.ErrValidation, "no symbols configured")
	}
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, errors.Wrapf(model.ErrValidation, "duplicate symbol %s", s.Name)
		}
		seen[s.Name] = true
	}
	return symbols, nil
}
