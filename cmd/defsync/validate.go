package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dcshock/defsync/definition"
	"github.com/spf13/cobra"
)

type validateResult struct {
	Valid      bool                          `json:"valid"`
	Categories int                           `json:"categories"`
	Digest     string                        `json:"digest,omitempty"`
	Errors     []definition.ValidationError `json:"errors,omitempty"`
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definitions-dir>",
		Short: "Parse and validate a definitions directory without publishing",
		Long: `Parse and validate every definition file under a directory.

All rejected entries are reported, not only the first. Exits 1 when any
entry is rejected.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser, err := definition.NewParser()
			if err != nil {
				return err
			}
			res := validateResult{Valid: true}
			cats, err := parser.Load(cmd.Context(), args[0])
			var verrs definition.ValidationErrors
			switch {
			case errors.As(err, &verrs):
				res.Valid, res.Errors = false, verrs
			case err != nil:
				return err
			default:
				set, err := definition.NewSet("", cats)
				if err != nil {
					return err
				}
				res.Categories, res.Digest = set.Len(), set.Digest
			}

			if err := printValidate(cmd, opts.Format, res); err != nil {
				return err
			}
			if !res.Valid {
				return withExit(exitFailure, fmt.Errorf("%d definition error(s)", len(res.Errors)))
			}
			return nil
		},
	}
}

func printValidate(cmd *cobra.Command, format string, res validateResult) error {
	w := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if res.Valid {
		_, err := fmt.Fprintf(w, "ok: %d categories, digest %s\n", res.Categories, res.Digest)
		return err
	}
	for _, e := range res.Errors {
		if _, err := fmt.Fprintln(w, e.Error()); err != nil {
			return err
		}
	}
	return nil
}
