// Command reldb is a line-oriented demonstration shell over
// internal/database: it accepts a small fixed vocabulary of statements
// (create table / insert / select / vacuum / transaction control) and
// translates each directly into a sql.Command, since a full SQL parser
// is out of scope for this engine. Dot-commands (.stats, .checkpoint,
// .help, .exit) mirror the contract a host embedding internal/database
// would drive around statement execution.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/reldb/reldb/internal/config"
	"github.com/reldb/reldb/internal/database"
	"github.com/reldb/reldb/internal/exec"
	"github.com/reldb/reldb/internal/logger"
	"github.com/reldb/reldb/internal/sql"
	"github.com/reldb/reldb/internal/value"
)

const historyFileName = ".reldb_history"

func main() {
	dataDir := flag.String("data", "./data", "data directory")
	flag.Parse()

	log := logger.Default()
	cfg := config.DefaultConfig()
	cfg.DataDir = *dataDir
	cfg.WAL.Dir = *dataDir + "/wal"

	db, err := database.Open(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reldb: open %s: %v\n", *dataDir, err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("reldb shell — data dir %s. Type .help for commands.\n", *dataDir)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := *dataDir + "/" + historyFileName
	if f, err := os.Open(historyPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	for {
		input, err := line.Prompt("reldb> ")
		if err != nil {
			if err == io.EOF || err == liner.ErrPromptAborted {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "reldb: %v\n", err)
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if handleDotCommand(db, input) {
			if input == ".exit" || input == ".quit" {
				break
			}
			continue
		}

		cmd, err := translate(input)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		res, err := db.Execute(cmd)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		printResult(res)
	}

	if f, err := os.Create(historyPath); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
}

func handleDotCommand(db *database.Database, input string) bool {
	switch input {
	case ".help":
		fmt.Println(`commands:
  create table NAME (col:type, ...)   types: int, float, text, bool, embedding:DIM
  insert into NAME values (v, ...)
  select * from NAME
  begin / commit / rollback
  vacuum [NAME]
  .stats
  .checkpoint
  .exit / .quit`)
		return true
	case ".stats":
		st := db.Stats()
		fmt.Printf("tables=%d rows=%d chains=%d versions=%d wal_size=%d active_txns=%d\n",
			st.TableCount, st.TotalRows, st.TotalChains, st.TotalVersions, st.WALSize, st.ActiveTxns)
		for _, ts := range st.Tables {
			fmt.Printf("  %-16s rows=%-6d max_chain=%d\n", ts.TableName, ts.RowCount, ts.MaxChainLength)
		}
		return true
	case ".checkpoint":
		if err := db.Checkpoint(); err != nil {
			fmt.Printf("error: %v\n", err)
		} else {
			fmt.Println("checkpoint complete")
		}
		return true
	case ".exit", ".quit":
		return true
	}
	return false
}

func printResult(res *exec.Result) {
	if res == nil {
		return
	}
	if len(res.Columns) == 0 && res.Rows == nil {
		if res.RowsAffected > 0 {
			fmt.Printf("ok (%d row(s) affected)\n", res.RowsAffected)
		} else {
			fmt.Println("ok")
		}
		return
	}
	fmt.Println(strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			v, _ := row.Get(col)
			cells[i] = formatValue(v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	fmt.Printf("(%d row(s))\n", len(res.Rows))
}

func formatValue(v value.Value) string {
	switch v.Kind {
	case value.KindNull:
		return "NULL"
	case value.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case value.KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case value.KindBool:
		return strconv.FormatBool(v.Bool)
	case value.KindText:
		return v.TextString()
	case value.KindEmbedding:
		return fmt.Sprintf("<embedding[%d]>", len(v.Embedding))
	default:
		return ""
	}
}

// translate parses the tiny fixed statement vocabulary this shell
// supports into a sql.Command. It is not a general SQL parser: each
// statement shape is matched literally, with only the identifier and
// literal lists free-form.
func translate(input string) (sql.Command, error) {
	lower := strings.ToLower(input)
	switch {
	case strings.HasPrefix(lower, "begin"):
		return sql.Begin{}, nil
	case strings.HasPrefix(lower, "commit"):
		return sql.Commit{}, nil
	case strings.HasPrefix(lower, "rollback"):
		return sql.Rollback{}, nil
	case strings.HasPrefix(lower, "vacuum"):
		table := strings.TrimSpace(input[len("vacuum"):])
		return sql.Vacuum{Table: table}, nil
	case strings.HasPrefix(lower, "create table"):
		return translateCreateTable(input)
	case strings.HasPrefix(lower, "insert into"):
		return translateInsert(input)
	case strings.HasPrefix(lower, "select"):
		return translateSelect(input)
	default:
		return nil, fmt.Errorf("unrecognized statement: %s", input)
	}
}

func translateCreateTable(input string) (sql.Command, error) {
	open := strings.Index(input, "(")
	closeIdx := strings.LastIndex(input, ")")
	if open < 0 || closeIdx < open {
		return nil, fmt.Errorf("create table: missing column list")
	}
	name := strings.TrimSpace(input[len("create table"):open])
	colList := input[open+1 : closeIdx]

	var cols []sql.ColumnDef
	for _, part := range strings.Split(colList, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("create table: malformed column %q", part)
		}
		colName := strings.TrimSpace(fields[0])
		typeSpec := strings.TrimSpace(fields[1])
		typ, dim, err := parseColumnType(typeSpec)
		if err != nil {
			return nil, err
		}
		cols = append(cols, sql.ColumnDef{Name: colName, Type: typ, EmbeddingDim: dim})
	}
	return sql.CreateTable{Table: name, Columns: cols}, nil
}

func parseColumnType(spec string) (sql.ColumnType, int, error) {
	fields := strings.SplitN(spec, ":", 2)
	switch strings.ToLower(fields[0]) {
	case "int":
		return sql.TypeInt, 0, nil
	case "float":
		return sql.TypeFloat, 0, nil
	case "text":
		return sql.TypeText, 0, nil
	case "bool":
		return sql.TypeBool, 0, nil
	case "embedding":
		if len(fields) != 2 {
			return 0, 0, fmt.Errorf("embedding column requires a dimension, e.g. embedding:384")
		}
		dim, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid embedding dimension: %w", err)
		}
		return sql.TypeEmbedding, dim, nil
	default:
		return 0, 0, fmt.Errorf("unknown column type %q", spec)
	}
}

func translateInsert(input string) (sql.Command, error) {
	lower := strings.ToLower(input)
	valuesIdx := strings.Index(lower, "values")
	if valuesIdx < 0 {
		return nil, fmt.Errorf("insert: missing VALUES clause")
	}
	table := strings.TrimSpace(input[len("insert into"):valuesIdx])
	open := strings.Index(input[valuesIdx:], "(")
	closeIdx := strings.LastIndex(input, ")")
	if open < 0 || closeIdx < 0 {
		return nil, fmt.Errorf("insert: malformed values list")
	}
	open += valuesIdx

	var exprs []sql.Expr
	for _, part := range strings.Split(input[open+1:closeIdx], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		exprs = append(exprs, sql.Literal{Value: parseLiteral(part)})
	}
	return sql.Insert{Table: table, Values: exprs}, nil
}

func parseLiteral(tok string) value.Value {
	if strings.HasPrefix(tok, "'") && strings.HasSuffix(tok, "'") && len(tok) >= 2 {
		return value.Text(tok[1 : len(tok)-1])
	}
	switch strings.ToLower(tok) {
	case "true":
		return value.Bool(true)
	case "false":
		return value.Bool(false)
	case "null":
		return value.Null()
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return value.Int(i)
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return value.Float(f)
	}
	return value.Text(tok)
}

func translateSelect(input string) (sql.Command, error) {
	lower := strings.ToLower(input)
	fromIdx := strings.Index(lower, "from")
	if fromIdx < 0 {
		return nil, fmt.Errorf("select: missing FROM clause")
	}
	table := strings.TrimSpace(input[fromIdx+len("from"):])
	return sql.Select{Star: true, Table: table}, nil
}
