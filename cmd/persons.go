package cmd

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edi-forensics/hwid-console/internal/api"
	"github.com/edi-forensics/hwid-console/internal/workflow"
)

var personsCmd = &cobra.Command{
	Use:   "persons",
	Short: "List, show, add, search, import and export persons",
}

var (
	personAge        string
	personOccupation string
	personNotes      string

	searchTerm       string
	searchField      string
	searchAge        string
	searchOccupation string

	exportOut   string
	skipInvalid bool
)

func init() {
	rootCmd.AddCommand(personsCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List persons (falls back to the journal cache when the backend is unreachable)",
		Args:  cobra.NoArgs,
		RunE:  runPersonsList,
	}

	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a person",
		Args:  cobra.ExactArgs(1),
		RunE:  runPersonsAdd,
	}
	addCmd.Flags().StringVar(&personAge, "age", "", "Age in years")
	addCmd.Flags().StringVar(&personOccupation, "occupation", "", "Occupation")
	addCmd.Flags().StringVar(&personNotes, "notes", "", "Free-form notes")

	showCmd := &cobra.Command{
		Use:   "show <person-id>",
		Short: "Show one person",
		Args:  cobra.ExactArgs(1),
		RunE:  runPersonsShow,
	}

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Filter persons by a term and optional age and occupation",
		Args:  cobra.NoArgs,
		RunE:  runPersonsSearch,
	}
	addFilterFlags(searchCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export (optionally filtered) persons as CSV",
		Args:  cobra.NoArgs,
		RunE:  runPersonsExport,
	}
	addFilterFlags(exportCmd)
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", workflow.SearchResultsFileName, "Output file (- for stdout)")

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Create persons from JSON or JSONL (file or stdin)",
		Long: `Create persons from a JSON array or line-delimited JSON objects.
Each object needs a name; age, occupation and notes are optional.

Examples:
  hwid-console persons import persons.jsonl
  cat persons.json | hwid-console persons import`,
		Args: cobra.MaximumNArgs(1),
		RunE: runPersonsImport,
	}
	importCmd.Flags().BoolVar(&skipInvalid, "skip-invalid", false, "Skip invalid records instead of stopping")

	personsCmd.AddCommand(listCmd, addCmd, showCmd, searchCmd, exportCmd, importCmd)
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&searchTerm, "term", "", "Search term (case-insensitive substring)")
	cmd.Flags().StringVar(&searchField, "field", string(workflow.FieldName), "Field the term applies to: name, occupation, notes")
	cmd.Flags().StringVar(&searchAge, "age", "", "Exact age")
	cmd.Flags().StringVar(&searchOccupation, "occupation", "", "Occupation substring")
}

func currentFilter() (workflow.Filter, error) {
	f := workflow.Filter{
		Term:       searchTerm,
		Field:      workflow.SearchField(strings.ToLower(searchField)),
		Age:        searchAge,
		Occupation: searchOccupation,
	}
	switch f.Field {
	case workflow.FieldName, workflow.FieldOccupation, workflow.FieldNotes:
	default:
		return f, fmt.Errorf("unknown field %q (use name, occupation or notes)", searchField)
	}
	return f, nil
}

func loadPersons(cmd *cobra.Command, rt *runtime) ([]api.Person, error) {
	persons, stale, err := rt.svc.LoadPersons(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to load persons: %s", errorDetail(err))
	}
	if stale {
		fmt.Fprintln(cmd.ErrOrStderr(), "Backend unreachable, showing cached persons.")
	}
	return persons, nil
}

func runPersonsList(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(GetConfig(), cliLogger(cmd, GetConfig()))
	if err != nil {
		return err
	}
	defer rt.Close()

	persons, err := loadPersons(cmd, rt)
	if err != nil {
		return err
	}
	printPersons(cmd.OutOrStdout(), persons)
	return nil
}

func runPersonsAdd(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(GetConfig(), cliLogger(cmd, GetConfig()))
	if err != nil {
		return err
	}
	defer rt.Close()

	if personAge != "" {
		if _, err := strconv.Atoi(personAge); err != nil {
			return fmt.Errorf("invalid --age %q", personAge)
		}
	}
	p, err := rt.svc.CreatePerson(cmd.Context(), api.NewPersonInput(args[0], personAge, personOccupation, personNotes))
	if err != nil {
		return fmt.Errorf("failed to create person: %s", errorDetail(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created person %s (%s)\n", p.Name, p.Key())
	return nil
}

func runPersonsShow(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	client := newClient(cfg, cliLogger(cmd, cfg))
	p, err := client.GetPerson(cmd.Context(), api.ID(args[0]))
	if err != nil {
		return fmt.Errorf("failed to get person: %s", errorDetail(err))
	}
	printPersons(cmd.OutOrStdout(), []api.Person{*p})
	return nil
}

func runPersonsSearch(cmd *cobra.Command, args []string) error {
	f, err := currentFilter()
	if err != nil {
		return err
	}
	rt, err := newRuntime(GetConfig(), cliLogger(cmd, GetConfig()))
	if err != nil {
		return err
	}
	defer rt.Close()

	persons, err := loadPersons(cmd, rt)
	if err != nil {
		return err
	}
	matches := f.Apply(persons)
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d persons match\n\n", len(matches), len(persons))
	printPersons(cmd.OutOrStdout(), matches)
	return nil
}

func runPersonsExport(cmd *cobra.Command, args []string) error {
	f, err := currentFilter()
	if err != nil {
		return err
	}
	rt, err := newRuntime(GetConfig(), cliLogger(cmd, GetConfig()))
	if err != nil {
		return err
	}
	defer rt.Close()

	persons, err := loadPersons(cmd, rt)
	if err != nil {
		return err
	}
	matches := f.Apply(persons)

	if exportOut == "-" {
		return workflow.WritePersonsCSV(cmd.OutOrStdout(), matches)
	}
	out, err := os.Create(exportOut)
	if err != nil {
		return fmt.Errorf("create %s: %w", exportOut, err)
	}
	if err := workflow.WritePersonsCSV(out, matches); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	rt.svc.Export(cmd.Context(), "search_csv", exportOut)
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d persons to %s\n", len(matches), exportOut)
	return nil
}

func runPersonsImport(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := cliLogger(cmd, cfg).Named("import")
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		r = f
	}

	records, err := readPersonRecords(r, skipInvalid, logger)
	if err != nil {
		return err
	}

	created, failed := 0, 0
	for i, in := range records {
		p, err := rt.svc.CreatePerson(cmd.Context(), in)
		if err != nil {
			failed++
			logger.Warn("create person failed", zap.Int("record", i+1), zap.String("name", in.Name), zap.Error(err))
			if !skipInvalid {
				return fmt.Errorf("record %d: %s", i+1, errorDetail(err))
			}
			continue
		}
		created++
		logger.Debug("created person", zap.String("id", p.Key().String()), zap.String("name", p.Name))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d persons (%d failed)\n", created, failed)
	return nil
}

// readPersonRecords accepts a JSON array or line-delimited JSON objects.
func readPersonRecords(r io.Reader, skip bool, logger *zap.Logger) ([]api.PersonInput, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var records []api.PersonInput
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("parse JSON array: %w", err)
		}
		return validRecords(records, skip, logger)
	}

	var records []api.PersonInput
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var in api.PersonInput
		if err := json.Unmarshal(text, &in); err != nil {
			if !skip {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			logger.Warn("skipping invalid line", zap.Int("line", line), zap.Error(err))
			continue
		}
		records = append(records, in)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan input: %w", err)
	}
	return validRecords(records, skip, logger)
}

func validRecords(records []api.PersonInput, skip bool, logger *zap.Logger) ([]api.PersonInput, error) {
	out := records[:0]
	for i, in := range records {
		if strings.TrimSpace(in.Name) == "" {
			if !skip {
				return nil, fmt.Errorf("record %d: name is required", i+1)
			}
			logger.Warn("skipping record without a name", zap.Int("record", i+1))
			continue
		}
		out = append(out, in)
	}
	return out, nil
}

func printPersons(w io.Writer, persons []api.Person) {
	if len(persons) == 0 {
		fmt.Fprintln(w, "No persons found.")
		return
	}
	for i, p := range persons {
		fmt.Fprintf(w, "%d. %s\n", i+1, p.Name)
		fmt.Fprintf(w, "   ID: %s\n", p.Key())
		if p.Age != nil {
			fmt.Fprintf(w, "   Age: %d\n", *p.Age)
		}
		if p.Occupation != "" {
			fmt.Fprintf(w, "   Occupation: %s\n", p.Occupation)
		}
		fmt.Fprintf(w, "   Samples: %d  Cases: %d\n", p.SampleCount, p.CaseCount)
		if p.Notes != "" {
			fmt.Fprintf(w, "   Notes: %s\n", p.Notes)
		}
		fmt.Fprintln(w)
	}
}

// errorDetail prefers the backend's detail message.
func errorDetail(err error) string {
	if d := api.Detail(err); d != "" {
		return d
	}
	return err.Error()
}
