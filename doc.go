// Package zodbc is an Arrow native session layer over ODBC style database drivers.
/*
zodbc gives connection lifecycle control, transaction scoping, parameterized statement execution and a
batched, resumable result protocol. Results leave the driver as Apache Arrow records and can be consumed
as records, as an Arrow table, or as rows.

Establishing a Connection

The primary way of establishing a connection is with zodbc.Connect. The Driver attribute of the ODBC
style connection string selects a driver registered with driver.Register.

    conn, err := zodbc.Connect(context.Background(), "Driver=memdb;Database=example")
    if err != nil {
        return err
    }
    defer conn.Close(context.Background())

Use ParseConfig and ConnectConfig to adjust the configuration, e.g. to set a Tracer.

Query Interface

Statements run on a Cursor. Each Cursor owns one native statement handle.

    cur, err := conn.Cursor(ctx)
    if err != nil {
        return err
    }
    defer cur.Close(ctx)

    err = cur.Execute(ctx, "select * from widgets where id = ?", 42)

Parameters are positional unless a single NamedArgs is given:

    err = cur.Execute(ctx, "insert into widgets values (:id, :name)", zodbc.NamedArgs{"id": 1, "name": "gear"})

Fetching Results

FetchBatch is the only primitive that moves data out of the driver. A batch shorter than the requested
size marks the end of the result set. Batches and Arrow drain the result set; FetchTuples, FetchDicts,
FetchNamed, FetchOne and FetchVal convert the same batches into Go values:

    tbl, err := cur.ArrowAll(ctx)
    if err != nil {
        return err
    }
    defer tbl.Release()

Rows can be streamed with Rows:

    it := cur.Rows(ctx, 1000)
    defer it.Close()
    for it.Next() {
        fmt.Println(it.Values()...)
    }

Arrow values are converted to nil, bool, int64, uint64, float64, string, []byte, time.Time,
time.Duration, decimal.Decimal or uuid.UUID.

Transactions

Commit and Rollback end the current transaction. Transact wraps a function in a transaction scope:

    err := conn.Transact(ctx, func(ctx context.Context, conn *zodbc.Conn) error {
        // ...
        return nil
    })

Table-Valued Parameters

A TVP binds an Arrow record as a single parameter:

    tvp := zodbc.NewTVP(zodbc.TVPTypeFromName("widget_list", "dbo"), rec)
    err = cur.Execute(ctx, "insert into widgets select * from ?", tvp)

Tracing and Logging

zodbc supports tracing by setting ConnConfig.Tracer. The tracelog package provides a tracer that logs
through an adapter for the common logging libraries, see the log directory.
*/
package zodbc
