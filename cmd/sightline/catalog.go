package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/abelbrown/sightline/internal/classify"
	"github.com/abelbrown/sightline/internal/config"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the installed countermeasure catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(false)
			if err != nil {
				return err
			}
			defer sess.Close()

			cms, err := sess.svc.Catalog()
			if err != nil {
				return err
			}
			fmt.Printf("%-38s %-10s %8s %10s %5s %-6s %s\n", "NAME", "TYPE", "RANGE", "COST", "EFF", "MOBILE", "AGAINST")
			for _, cm := range cms {
				against := make([]string, len(cm.EffectiveAgainst))
				for i, c := range cm.EffectiveAgainst {
					against[i] = string(c)
				}
				mobile := "no"
				if cm.Mobile {
					mobile = "yes"
				}
				fmt.Printf("%-38s %-10s %6.0fkm %10.0f %5.2f %-6s %s\n",
					truncate(cm.Name, 38), cm.Type, cm.RangeKm, cm.Cost, cm.Effectiveness, mobile, strings.Join(against, ","))
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file.yaml>",
		Short: "Check a catalog file without installing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cms, err := classify.LoadCatalog(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d countermeasures OK\n", args[0], len(cms))
			return nil
		},
	})
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigPath()
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.DefaultConfig().SaveToFile(path); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})
	return cmd
}
