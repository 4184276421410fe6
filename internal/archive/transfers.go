// -----------------------------------------------------------------------
// Bulk data transfers - delegated to the icommands, which handle
// parallel streams and checksum verification themselves
// -----------------------------------------------------------------------

package archive

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// Get implements interfaces.Archive. The remote tree lands inside localDir
// under its own leaf name, matching iget semantics.
func (c *Client) Get(ctx context.Context, remotePath, localDir string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.run(ctx, "iget", "-f", "-K", "-r", remotePath, localDir)
}

// Put implements interfaces.Archive. The local tree lands inside the remote
// collection under its own leaf name, matching iput semantics.
func (c *Client) Put(ctx context.Context, localPath, remotePath string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.run(ctx, "iput", "-f", "-K", "-r", localPath, remotePath)
}

// EnsureCollection implements interfaces.Archive.
func (c *Client) EnsureCollection(ctx context.Context, path string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.run(ctx, "imkdir", "-p", path)
}

// RemoveCollection implements interfaces.Archive.
func (c *Client) RemoveCollection(ctx context.Context, path string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.run(ctx, "irm", "-r", path)
}

// runICommand is the default CommandRunner.
func (c *Client) runICommand(ctx context.Context, name string, args ...string) error {
	c.logger.Debug().Str("cmd", name+" "+strings.Join(args, " ")).Msg("Running archive command")

	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = err.Error()
		}
		return &ClientError{Op: name, Message: message}
	}
	return nil
}
