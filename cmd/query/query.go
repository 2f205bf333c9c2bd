package query

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	bolt "github.com/mindstand/go-bolt-connector"
	"github.com/mindstand/go-bolt-connector/cmd/util"
	"github.com/mindstand/go-bolt-connector/errors"
)

var (
	connector  *bolt.Connector
	accessMode bolt.AccessMode

	// RunCmd prints the records of a statement, tab separated
	RunCmd = &cobra.Command{
		Use:               "run [statement]",
		Short:             "Run a statement and print its records",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: setupConnector,
		PersistentPostRun: teardownConnector,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runStatement(cmd.OutOrStdout(), connector, accessMode, args[0], viper.GetBool("header"))
			return err
		},
	}

	// DebugCmd runs a statement with full logging and prints where the time went
	DebugCmd = &cobra.Command{
		Use:               "debug [statement]",
		Short:             "Run a statement with tracing and print timings",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: setupDebugConnector,
		PersistentPostRun: teardownConnector,
		RunE: func(cmd *cobra.Command, args []string) error {
			return debugStatement(cmd.ErrOrStderr(), connector, accessMode, args[0])
		},
	}

	// PerfCmd runs a statement repeatedly on one connection
	PerfCmd = &cobra.Command{
		Use:               "perf [statement]",
		Short:             "Measure how long a statement takes over many runs",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: setupConnector,
		PersistentPostRun: teardownConnector,
		RunE: func(cmd *cobra.Command, args []string) error {
			return perfStatement(cmd.ErrOrStderr(), connector, accessMode, args[0], viper.GetInt("warmup"), viper.GetInt("times"))
		},
	}

	// PingCmd opens a connection and reports what the server said about itself
	PingCmd = &cobra.Command{
		Use:               "ping",
		Short:             "Connect, authenticate and print server details",
		Args:              cobra.NoArgs,
		PersistentPreRunE: setupConnector,
		PersistentPostRun: teardownConnector,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ping(cmd.OutOrStdout(), connector, accessMode)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	for _, cmd := range []*cobra.Command{RunCmd, DebugCmd, PerfCmd, PingCmd} {
		util.SetupConnectorFlags(cmd.PersistentFlags())
	}

	key := "header"
	RunCmd.Flags().Bool(key, false, util.WrapString("Print the field names before the records"))

	key = "warmup"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Runs before measuring starts"))
	key = "times"
	PerfCmd.Flags().Int(key, 100, util.WrapString("Measured runs"))
}

func setupConnector(cmd *cobra.Command, _ []string) error {
	return newConnector(cmd, false)
}

func setupDebugConnector(cmd *cobra.Command, _ []string) error {
	return newConnector(cmd, true)
}

func newConnector(cmd *cobra.Command, trace bool) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if trace {
		viper.Set("log-level", "trace")
	}
	util.SetupLogging()

	cfg, err := util.GetConnectorConfig()
	if err != nil {
		return err
	}
	cfg.Trace = trace
	if accessMode, err = util.GetAccessMode(); err != nil {
		return err
	}

	connector, err = bolt.NewConnector(cfg)
	return err
}

func teardownConnector(_ *cobra.Command, _ []string) {
	if connector != nil {
		connector.Destroy()
		connector = nil
	}
}

func acquire(connector *bolt.Connector, mode bolt.AccessMode) (*bolt.Connection, error) {
	result := connector.Acquire(mode)
	if err := result.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to %s", connector.Address())
	}
	return result.Connection, nil
}

// load pipelines RUN and PULL_ALL and sends them
func load(conn *bolt.Connection, statement string) error {
	if _, err := conn.LoadRun(statement, nil); err != nil {
		return err
	}
	if _, err := conn.LoadPullAll(); err != nil {
		return err
	}
	return conn.Transmit()
}

// summary fetches up to the next summary, failing on a FAILURE
func summary(conn *bolt.Connection) (int, error) {
	records, err := conn.FetchSummary()
	if err != nil {
		return records, err
	}
	if conn.Current().Kind != bolt.ResponseSuccess {
		if cerr := conn.Err(); cerr != nil {
			return records, cerr
		}
		return records, fmt.Errorf("statement was %s", conn.Current().Kind)
	}
	return records, nil
}

// fetchRecords hands every record of the pending PULL_ALL to fn
func fetchRecords(conn *bolt.Connection, fn func([]interface{})) (int, error) {
	records := 0
	for {
		if _, err := conn.Fetch(); err != nil {
			return records, err
		}
		current := conn.Current()
		switch current.Kind {
		case bolt.ResponseRecord:
			records++
			fn(current.Fields)
		case bolt.ResponseSuccess:
			return records, nil
		default:
			if cerr := conn.Err(); cerr != nil {
				return records, cerr
			}
			return records, fmt.Errorf("results were %s", current.Kind)
		}
	}
}

func runStatement(out io.Writer, connector *bolt.Connector, mode bolt.AccessMode, statement string, header bool) (int, error) {
	conn, err := acquire(connector, mode)
	if err != nil {
		return 0, err
	}
	defer connector.Release(conn)

	if err := load(conn, statement); err != nil {
		return 0, err
	}
	if _, err := summary(conn); err != nil {
		return 0, err
	}
	if header {
		fields, _ := conn.Current().Metadata["fields"].([]interface{})
		fmt.Fprintln(out, util.FormatRow(fields))
	}

	return fetchRecords(conn, func(values []interface{}) {
		fmt.Fprintln(out, util.FormatRow(values))
	})
}

func debugStatement(out io.Writer, connector *bolt.Connector, mode bolt.AccessMode, statement string) error {
	var checkpoints [6]time.Time
	checkpoints[0] = time.Now()

	conn, err := acquire(connector, mode)
	if err != nil {
		return err
	}
	checkpoints[1] = time.Now()

	if err := load(conn, statement); err != nil {
		connector.Release(conn)
		return err
	}
	checkpoints[2] = time.Now()

	if _, err := summary(conn); err != nil {
		connector.Release(conn)
		return err
	}
	checkpoints[3] = time.Now()

	records, err := fetchRecords(conn, func([]interface{}) {})
	if err != nil {
		connector.Release(conn)
		return err
	}
	checkpoints[4] = time.Now()

	recording := conn.Recording()
	connector.Release(conn)
	checkpoints[5] = time.Now()

	fmt.Fprintf(out, "statement            : %s\n", statement)
	fmt.Fprintf(out, "record count         : %d\n", records)
	fmt.Fprintln(out, "=====================================")
	fmt.Fprintf(out, "initialisation       : %s\n", checkpoints[1].Sub(checkpoints[0]))
	fmt.Fprintf(out, "transmission         : %s\n", checkpoints[2].Sub(checkpoints[1]))
	fmt.Fprintf(out, "statement processing : %s\n", checkpoints[3].Sub(checkpoints[2]))
	fmt.Fprintf(out, "result processing    : %s\n", checkpoints[4].Sub(checkpoints[3]))
	fmt.Fprintf(out, "release              : %s\n", checkpoints[5].Sub(checkpoints[4]))
	fmt.Fprintln(out, "=====================================")
	fmt.Fprintf(out, "TOTAL                : %s\n", checkpoints[5].Sub(checkpoints[0]))

	if recording != nil {
		fmt.Fprintln(out)
		recording.Print(out)
	}
	return nil
}

func runFetch(conn *bolt.Connection, statement string) (int, error) {
	if err := load(conn, statement); err != nil {
		return 0, err
	}
	if _, err := summary(conn); err != nil {
		return 0, err
	}
	return summary(conn)
}

func perfStatement(out io.Writer, connector *bolt.Connector, mode bolt.AccessMode, statement string, warmup, times int) error {
	conn, err := acquire(connector, mode)
	if err != nil {
		return err
	}
	defer connector.Release(conn)

	for i := 0; i < warmup; i++ {
		if _, err := runFetch(conn, statement); err != nil {
			return err
		}
	}

	start := time.Now()
	records := 0
	for i := 0; i < times; i++ {
		n, err := runFetch(conn, statement)
		if err != nil {
			return err
		}
		records += n
	}
	elapsed := time.Since(start)

	fmt.Fprintf(out, "statement            : %s\n", statement)
	fmt.Fprintf(out, "record count         : %d\n", records)
	fmt.Fprintln(out, "=====================================")
	fmt.Fprintf(out, "TOTAL TIME           : %s\n", elapsed)
	if times > 0 {
		fmt.Fprintf(out, "PER RUN              : %s\n", elapsed/time.Duration(times))
	}
	return nil
}

func ping(out io.Writer, connector *bolt.Connector, mode bolt.AccessMode) error {
	start := time.Now()
	conn, err := acquire(connector, mode)
	if err != nil {
		return err
	}
	defer connector.Release(conn)

	fmt.Fprintf(out, "address              : %s\n", conn.Address())
	fmt.Fprintf(out, "server               : %s\n", conn.Server())
	fmt.Fprintf(out, "protocol version     : %d\n", conn.ProtocolVersion())
	if id := conn.ServerConnectionID(); id != "" {
		fmt.Fprintf(out, "connection id        : %s\n", id)
	}
	fmt.Fprintf(out, "connect time         : %s\n", time.Since(start))
	return nil
}
