/*
Package bolt implements the connection layer of a Bolt protocol client:
sessions with a server and a bounded pool to hold them.

A Connector owns the pool for one server address. Acquire hands out a
Connection for the exclusive use of the caller, opening one when the pool
has room, and Release gives it back:

	connector, err := bolt.NewConnector(bolt.Config{
		Address: "localhost:7687",
		Auth:    bolt.BasicAuth("neo4j", "secret", ""),
	})
	if err != nil {
		...
	}
	defer connector.Destroy()

	result := connector.Acquire(bolt.AccessModeWrite)
	if err := result.Err(); err != nil {
		...
	}
	conn := result.Connection
	defer connector.Release(conn)

Acquire never waits. When every connection is borrowed it returns a result
with the PoolFull code and it is up to the caller to try again later.

Requests are pipelined. Loading a request only encodes it; Transmit sends
everything loaded so far in a single write, and Fetch then walks the
responses in the order their requests were loaded:

	conn.LoadRun("MATCH (n) RETURN n.name", nil)
	conn.LoadPullAll()
	if err := conn.Transmit(); err != nil {
		...
	}
	for {
		more, err := conn.Fetch()
		if err != nil {
			...
		}
		if r := conn.Current(); r.Kind == bolt.ResponseRecord {
			fmt.Println(r.Fields...)
		}
		if !more {
			break
		}
	}

A FAILURE from the server is not a Go error: it moves the connection to the
FAILED status, the requests after it are IGNORED, and the connection is
reset the next time it is released or acquired. Errors on the transport or
in the protocol itself leave the connection DEFUNCT, and the pool discards
it on release.

Connections are not safe for concurrent use. The Connector is.

Logging goes through the log package, set BOLT_DRIVER_LOG to trace to dump
every byte on the wire. Setting Config.Trace records each connection's
traffic in a Recorder, which can be saved and played back in tests.
*/
package bolt
