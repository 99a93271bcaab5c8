package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/permit/pkg/rbac"
)

// LoadCatalog reads a YAML permission catalog:
//
//	permissions:
//	  - name: invoice:read
//	    description: Read invoices
//	roles:
//	  - name: ACCOUNTANT
//	    description: Finance staff
//	    permissions: [invoice:read]
func LoadCatalog(path string) (rbac.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rbac.Catalog{}, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and checks a YAML catalog. Unknown keys are rejected.
func ParseCatalog(data []byte) (rbac.Catalog, error) {
	var c rbac.Catalog
	if len(bytes.TrimSpace(data)) == 0 {
		return c, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return rbac.Catalog{}, fmt.Errorf("invalid catalog: %w", err)
	}

	if err := validateCatalog(c); err != nil {
		return rbac.Catalog{}, err
	}
	return c, nil
}

func validateCatalog(c rbac.Catalog) error {
	seen := make(map[string]struct{}, len(c.Permissions))
	for i, p := range c.Permissions {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("invalid catalog: permissions[%d] has no name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("invalid catalog: permission %q listed twice", name)
		}
		seen[name] = struct{}{}
	}

	roles := make(map[string]struct{}, len(c.Roles))
	for i, r := range c.Roles {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("invalid catalog: roles[%d] has no name", i)
		}
		if _, dup := roles[name]; dup {
			return fmt.Errorf("invalid catalog: role %q listed twice", name)
		}
		roles[name] = struct{}{}
	}
	return nil
}
