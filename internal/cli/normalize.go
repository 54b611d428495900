package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"altan/workspace/internal/app"
	"altan/workspace/internal/formdata"
)

var (
	normalizeSchema string
	normalizeData   string
	validateSchema  string
	validateData    string
)

// ErrInvalidPayload is returned by validate when the payload does not match.
var ErrInvalidPayload = errors.New("payload does not match schema")

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Normalize a form payload against a field schema",
	Long: `normalize applies the field schema (JSON or YAML, either an object schema
or a bare map of field descriptors) to the payload and prints the result.`,
	RunE: runNormalize,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a payload against a JSON schema",
	Long:  `validate exits non-zero and lists the validator's errors when the payload does not match.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
	normalizeCmd.Flags().StringVar(&normalizeSchema, "schema", "", "field schema file (.json, .yaml, .yml)")
	normalizeCmd.Flags().StringVar(&normalizeData, "data", "", "payload file (JSON object)")
	_ = normalizeCmd.MarkFlagRequired("schema")
	_ = normalizeCmd.MarkFlagRequired("data")

	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateSchema, "schema", "", "JSON schema file")
	validateCmd.Flags().StringVar(&validateData, "data", "", "payload file (JSON)")
	_ = validateCmd.MarkFlagRequired("schema")
	_ = validateCmd.MarkFlagRequired("data")
}

func runNormalize(cmd *cobra.Command, args []string) error {
	fields, err := readFieldSchema(normalizeSchema)
	if err != nil {
		return err
	}
	var data map[string]any
	if err := readJSON(normalizeData, &data); err != nil {
		return err
	}
	if data == nil {
		data = map[string]any{}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(formdata.Normalize(data, fields))
}

func runValidate(cmd *cobra.Command, args []string) error {
	schema, err := os.ReadFile(validateSchema)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	var data any
	if err := readJSON(validateData, &data); err != nil {
		return err
	}

	if err := formdata.Validate(data, schema); err != nil {
		out := cmd.ErrOrStderr()
		for _, message := range formdata.ValidationMessages(err) {
			fmt.Fprintln(out, message)
		}
		return ErrInvalidPayload
	}
	fmt.Fprintln(cmd.OutOrStdout(), "valid")
	return nil
}

func readFieldSchema(path string) (*formdata.Fields, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		fields, err := formdata.ParseFieldsYAML(raw)
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", path, err)
		}
		return fields, nil
	default:
		fields, err := app.ParseFieldSchema(raw)
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", path, err)
		}
		return fields, nil
	}
}

func readJSON(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse data %s: %w", path, err)
	}
	return nil
}
