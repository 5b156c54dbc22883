// seedrules loads keyword and organization rules from a YAML file, so a
// fresh database can start with a working rule set instead of hand-entered
// rows. Existing rules with the same keyword or organization are updated.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bcastro/ca-radar/internal/app"
	"github.com/bcastro/ca-radar/internal/models"
)

type rulesFile struct {
	Keywords []struct {
		Text          string `yaml:"text"`
		NamePoints    int    `yaml:"name_points"`
		DescPoints    int    `yaml:"desc_points"`
		ProductPoints int    `yaml:"product_points"`
	} `yaml:"keywords"`
	Organizations []struct {
		Name   string `yaml:"name"`
		Sector string `yaml:"sector"`
		Kind   string `yaml:"kind"` // priority or excluded
		Points int    `yaml:"points"`
	} `yaml:"organizations"`
}

func main() {
	path := flag.String("file", "rules.yaml", "rules file to load")
	flag.Parse()

	raw, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *path, err)
	}
	var rules rulesFile
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		log.Fatalf("Failed to parse %s: %v", *path, err)
	}

	ctx := context.Background()
	a, err := app.Build(ctx)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Pool.Close()

	for _, k := range rules.Keywords {
		rule, err := a.Store.AddKeyword(ctx, k.Text, k.NamePoints, k.DescPoints, k.ProductPoints)
		if err != nil {
			log.Fatalf("Keyword %q: %v", k.Text, err)
		}
		log.Printf("keyword %q (+%d/+%d/+%d)", rule.Text, rule.NamePoints, rule.DescPoints, rule.ProductPoints)
	}

	for _, o := range rules.Organizations {
		kind := models.OrgRuleKind(o.Kind)
		if kind != models.OrgRulePriority && kind != models.OrgRuleExcluded {
			log.Fatalf("Organization %q: kind must be priority or excluded, got %q", o.Name, o.Kind)
		}
		orgID, err := a.Store.EnsureOrganization(ctx, o.Name, o.Sector)
		if err != nil {
			log.Fatalf("Organization %q: %v", o.Name, err)
		}
		if err := a.Store.SetOrganizationRule(ctx, orgID, kind, o.Points); err != nil {
			log.Fatalf("Organization rule %q: %v", o.Name, err)
		}
		log.Printf("organization %q: %s (%d)", o.Name, kind, o.Points)
	}

	log.Printf("loaded %d keywords, %d organization rules", len(rules.Keywords), len(rules.Organizations))
}
