package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/pricer/catalog"
)

// ProductFile is the import format: a YAML or JSON document with a top-level
// products list.
type ProductFile struct {
	Products []catalog.Product `json:"products" yaml:"products"`
}

func LoadProducts(path string) ([]catalog.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read products file: %w", err)
	}

	var pf ProductFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &pf)
	default:
		err = yaml.Unmarshal(data, &pf)
	}
	if err != nil {
		return nil, fmt.Errorf("parse products file: %w", err)
	}
	return pf.Products, nil
}

// ImportProducts creates every product in path and returns them with their
// assigned ids. It stops at the first invalid product.
func (a *App) ImportProducts(ctx context.Context, path string) ([]catalog.Product, error) {
	products, err := LoadProducts(path)
	if err != nil {
		return nil, err
	}
	for i := range products {
		if err := a.Store.CreateProduct(ctx, &products[i]); err != nil {
			return products[:i], fmt.Errorf("product %d (%s): %w", i+1, products[i].Name, err)
		}
	}
	a.Log.Info("products imported", "count", len(products), "path", path)
	return products, nil
}
