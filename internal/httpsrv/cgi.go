package httpsrv

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// cgiTimeout bounds a forked CGI process: a server sharing one worker
// pool across every connection cannot let a slow CGI script starve the
// rest of the dispatch.
const cgiTimeout = 5 * time.Second

// execCGI forks scriptPath with CGI/1.1 environment variables set from
// method and the URL's query string, and returns whatever it writes to
// stdout. os/exec performs the pipe/fork/dup2/exec sequence under the
// hood without requiring direct syscalls here.
func execCGI(scriptPath, method, query string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cgiTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, scriptPath)
	cmd.Env = append(cmd.Env,
		"REQUEST_METHOD="+method,
		"QUERY_STRING="+query,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}
