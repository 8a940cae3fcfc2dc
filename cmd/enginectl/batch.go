// Batch command handling: a small line-oriented command set (§6) sufficient
// to drive the storage layer end-to-end without a SQL parser, which is out
// of scope (§1 Non-goals).
package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/latticedb/lattice/server/innodb/basic"
	"github.com/latticedb/lattice/server/innodb/catalog"
	"github.com/latticedb/lattice/server/innodb/engine"
	"github.com/latticedb/lattice/server/innodb/metadata"
	"github.com/latticedb/lattice/server/innodb/plan"
	"github.com/latticedb/lattice/server/innodb/table"
)

const promptName = "enginectl"

// session tracks the currently-used database, the way a SQL client tracks
// its last USE statement. batch mirrors -b/--batch: no prompt, csv output.
type session struct {
	eng   *engine.Engine
	db    *catalog.Database
	batch bool
}

func (s *session) promptText() string {
	name := ""
	if s.db != nil {
		name = s.db.Name
	}
	return promptName + "(" + name + ")> "
}

// errorRow is the failure shape printed to stdout per §7: {"!ERROR",
// reason}.
func errorRow(w io.Writer, err error) {
	fmt.Fprintf(w, "{\"!ERROR\", %q}\n", err.Error())
}

// runBatch executes every non-blank, non-comment line in r against s,
// writing results and error rows to w. With batch false, a prompt is
// echoed before every line read (§6 "-b/--batch: no prompt, csv output").
func runBatch(s *session, r io.Reader, w io.Writer, batch bool) error {
	s.batch = batch
	scanner := bufio.NewScanner(r)
	for {
		if !batch {
			fmt.Fprint(w, s.promptText())
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.exec(line, w); err != nil {
			errorRow(w, err)
		}
	}
	return scanner.Err()
}

func (s *session) exec(line string, w io.Writer) error {
	upper := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(upper, "CREATE DATABASE "):
		name := strings.TrimSpace(line[len("CREATE DATABASE "):])
		return s.eng.Catalog.CreateDatabase(name)

	case strings.HasPrefix(upper, "USE "):
		name := strings.TrimSpace(line[len("USE "):])
		db, err := s.eng.Catalog.UseDatabase(name)
		if err != nil {
			return err
		}
		s.db = db
		return nil

	case strings.HasPrefix(upper, "CREATE TABLE "):
		return s.createTable(line)

	case strings.HasPrefix(upper, "INSERT INTO "):
		return s.insert(line)

	case strings.HasPrefix(upper, "SELECT * FROM "):
		return s.selectAll(line, w)

	case strings.HasPrefix(upper, "DELETE FROM "):
		return s.deleteWhere(line)

	default:
		return fmt.Errorf("unrecognized command: %s", line)
	}
}

func (s *session) requireDB() (*catalog.Database, error) {
	if s.db == nil {
		return nil, basic.ErrNoCurrentDatabase
	}
	return s.db, nil
}

// createTable parses `CREATE TABLE name (col TYPE [NOT NULL], ...)`.
func (s *session) createTable(line string) error {
	db, err := s.requireDB()
	if err != nil {
		return err
	}
	open := strings.IndexByte(line, '(')
	shut := strings.LastIndexByte(line, ')')
	if open < 0 || shut < open {
		return fmt.Errorf("malformed CREATE TABLE: %s", line)
	}
	name := strings.TrimSpace(line[len("CREATE TABLE "):open])
	body := line[open+1 : shut]

	var fields []metadata.Field
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		toks := strings.Fields(part)
		if len(toks) < 2 {
			return fmt.Errorf("malformed column definition: %s", part)
		}
		f := metadata.Field{Name: toks[0]}
		typTok := strings.ToUpper(toks[1])
		switch {
		case typTok == "INT":
			f.Type = metadata.TypeInt
		case typTok == "FLOAT":
			f.Type = metadata.TypeFloat
		case strings.HasPrefix(typTok, "VARCHAR("):
			f.Type = metadata.TypeVarchar
			lenStr := strings.TrimSuffix(strings.TrimPrefix(typTok, "VARCHAR("), ")")
			n, err := strconv.Atoi(lenStr)
			if err != nil {
				return fmt.Errorf("malformed VARCHAR length in %q: %w", part, err)
			}
			f.MaxLen = n
		default:
			return fmt.Errorf("unknown column type %q", toks[1])
		}
		for _, tok := range toks[2:] {
			if strings.EqualFold(tok, "NOT") || strings.EqualFold(tok, "NULL") {
				f.NotNull = true
			}
		}
		fields = append(fields, f)
	}

	_, err = db.CreateTable(name, fields)
	return err
}

// insert parses `INSERT INTO name VALUES (v1, v2, ...)`.
func (s *session) insert(line string) error {
	db, err := s.requireDB()
	if err != nil {
		return err
	}
	rest := strings.TrimSpace(line[len("INSERT INTO "):])
	valuesIdx := strings.Index(strings.ToUpper(rest), "VALUES")
	if valuesIdx < 0 {
		return fmt.Errorf("malformed INSERT: %s", line)
	}
	name := strings.TrimSpace(rest[:valuesIdx])
	tbl, err := db.UseTable(name)
	if err != nil {
		return err
	}

	open := strings.IndexByte(rest, '(')
	shut := strings.LastIndexByte(rest, ')')
	if open < 0 || shut < open {
		return fmt.Errorf("malformed INSERT values: %s", line)
	}
	raw := strings.Split(rest[open+1:shut], ",")
	if len(raw) != len(tbl.Schema.Fields) {
		return fmt.Errorf("expected %d values, got %d", len(tbl.Schema.Fields), len(raw))
	}
	values := make([]basic.Value, len(raw))
	for i, field := range tbl.Schema.Fields {
		values[i] = parseValue(field, strings.TrimSpace(raw[i]))
	}
	_, _, err = tbl.InsertRecord(values)
	return err
}

func parseValue(f metadata.Field, tok string) basic.Value {
	tok = strings.Trim(tok, "'\"")
	switch f.Type {
	case metadata.TypeInt:
		n, _ := strconv.ParseInt(tok, 10, 32)
		return basic.IntValue(int32(n))
	case metadata.TypeFloat:
		x, _ := strconv.ParseFloat(tok, 64)
		return basic.FloatValue(x)
	default:
		return basic.StrValue(tok)
	}
}

// selectAll parses `SELECT * FROM name [WHERE col op value]`.
func (s *session) selectAll(line string, w io.Writer) error {
	db, err := s.requireDB()
	if err != nil {
		return err
	}
	rest := strings.TrimSpace(line[len("SELECT * FROM "):])
	name := rest
	var constraints []plan.WhereConstraint
	if idx := strings.Index(strings.ToUpper(rest), "WHERE "); idx >= 0 {
		name = strings.TrimSpace(rest[:idx])
		tbl, err := db.UseTable(name)
		if err != nil {
			return err
		}
		c, err := parseConstraint(tbl, strings.TrimSpace(rest[idx+len("WHERE "):]))
		if err != nil {
			return err
		}
		constraints = []plan.WhereConstraint{c}
	}

	tbl, err := db.UseTable(name)
	if err != nil {
		return err
	}
	planner := plan.NewPlanner(s.eng.Catalog.FileMapper(), s.eng.Catalog.BufferPool())
	it := planner.Plan(tbl, constraints, nil)
	defer it.Close()
	for {
		row, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		fmt.Fprintln(w, formatRow(row, s.batch))
	}
	return nil
}

// deleteWhere parses `DELETE FROM name WHERE col = value` (equality only).
func (s *session) deleteWhere(line string) error {
	db, err := s.requireDB()
	if err != nil {
		return err
	}
	rest := strings.TrimSpace(line[len("DELETE FROM "):])
	idx := strings.Index(strings.ToUpper(rest), "WHERE ")
	if idx < 0 {
		return fmt.Errorf("DELETE requires a WHERE clause: %s", line)
	}
	name := strings.TrimSpace(rest[:idx])
	tbl, err := db.UseTable(name)
	if err != nil {
		return err
	}
	c, err := parseConstraint(tbl, strings.TrimSpace(rest[idx+len("WHERE "):]))
	if err != nil {
		return err
	}
	if c.Op != plan.OpEQ {
		return fmt.Errorf("DELETE only supports equality constraints")
	}

	planner := plan.NewPlanner(s.eng.Catalog.FileMapper(), s.eng.Catalog.BufferPool())
	it := planner.Plan(tbl, []plan.WhereConstraint{c}, nil)
	defer it.Close()
	type locator struct {
		page uint32
		slot int
	}
	var targets []locator
	for {
		row, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		targets = append(targets, locator{row.SourcePage, row.SourceSlot})
	}
	for _, t := range targets {
		if err := tbl.EraseRecord(t.page, t.slot, true); err != nil {
			return err
		}
	}
	return nil
}

func parseConstraint(tbl *table.Table, clause string) (plan.WhereConstraint, error) {
	for _, op := range []struct {
		tok string
		op  plan.Op
	}{{"<=", plan.OpLE}, {">=", plan.OpGE}, {"=", plan.OpEQ}, {"<", plan.OpLT}, {">", plan.OpGT}} {
		if idx := strings.Index(clause, op.tok); idx >= 0 {
			colName := strings.TrimSpace(clause[:idx])
			valTok := strings.TrimSpace(clause[idx+len(op.tok):])
			field, ord, ok := tbl.Schema.FieldByName(colName)
			if !ok {
				return plan.WhereConstraint{}, fmt.Errorf("no such column: %s", colName)
			}
			return plan.WhereConstraint{FieldIndex: ord, Op: op.op, Value: parseValue(field, valTok)}, nil
		}
	}
	return plan.WhereConstraint{}, fmt.Errorf("malformed WHERE clause: %s", clause)
}

// formatRow renders row as csv when asCSV is set (batch mode's documented
// output format, §6), tab-separated otherwise for interactive reading.
func formatRow(row plan.Row, asCSV bool) string {
	parts := make([]string, len(row.Values))
	for i, v := range row.Values {
		switch v.Kind {
		case basic.KindInt:
			parts[i] = strconv.FormatInt(int64(v.I), 10)
		case basic.KindFloat:
			parts[i] = strconv.FormatFloat(v.F, 'g', -1, 64)
		case basic.KindStr:
			parts[i] = v.S
		default:
			parts[i] = "NULL"
		}
	}
	if !asCSV {
		return strings.Join(parts, "\t")
	}
	var buf strings.Builder
	cw := csv.NewWriter(&buf)
	_ = cw.Write(parts)
	cw.Flush()
	return strings.TrimRight(buf.String(), "\n")
}
