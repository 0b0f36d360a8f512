// Package snowmcp implements a read-only MCP gateway for Snowflake.
//
// The engine exposes a small set of tools (read_query, list_databases,
// list_schemas, list_tables, describe_table) over a JSON-RPC 2.0 dispatcher.
// Every statement that reaches Snowflake first passes a fail-closed lexical
// write check, then executes on a pooled session with exclusive access, a
// per-statement timeout, and optional result sanitization.
//
// Sessions are never shared between concurrent statements. A session that
// times out or hits a transport error is discarded and replaced lazily; the
// statement that observed the failure is reported to the caller, never
// retried.
//
// Construction is strict: New panics on invalid configuration and returns an
// error only for runtime failures such as an unreachable account. Tool
// failures are returned inside successful protocol envelopes so that a
// client can read the database's own error text.
package snowmcp
