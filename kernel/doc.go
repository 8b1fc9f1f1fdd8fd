/*
Package kernel provides a client for executing code on a running Jupyter
kernel through the notebook server's kernel channels WebSocket.

A Client owns a single WebSocket session to one kernel. Execute sends an
execute_request, then folds the kernel's reply stream (stdout/stderr streams,
rich display data, errors, the execution counter) into an ExecutionResult,
returning once the kernel reports it is idle again for that request.

The kernel's lifecycle is not managed here: callers are expected to have
created the kernel already (for example via the notebook server's REST API)
and to delete it when they are done.
*/
package kernel
