// -----------------------------------------------------------------------
// baton wire protocol - JSON envelopes exchanged with a baton-do child
// process, one document per line on its stdin/stdout
// -----------------------------------------------------------------------

package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	gopath "path"
	"time"

	"github.com/ternarybob/workbot/internal/models"
)

const (
	opList      = "list"
	opMetamod   = "metamod"
	opMetaquery = "metaquery"
	opChmod     = "chmod"

	metamodAdd    = "add"
	metamodRemove = "rem"
)

// batonArgs is the "arguments" member of a request envelope. Flags are only
// sent when set; baton-do treats absent flags as false.
type batonArgs struct {
	Operation  string `json:"operation,omitempty"` // metamod: "add" or "rem"
	ACL        bool   `json:"acl,omitempty"`
	AVU        bool   `json:"avu,omitempty"`
	Checksum   bool   `json:"checksum,omitempty"`
	Contents   bool   `json:"contents,omitempty"`
	Size       bool   `json:"size,omitempty"`
	Timestamp  bool   `json:"timestamp,omitempty"`
	Collection bool   `json:"collection,omitempty"` // metaquery scope
	Object     bool   `json:"object,omitempty"`     // metaquery scope
	Recurse    bool   `json:"recurse,omitempty"`
}

// batonAccess is one entry of an item's access control list.
type batonAccess struct {
	Owner string `json:"owner"`
	Level string `json:"level"`
	Zone  string `json:"zone,omitempty"`
}

// batonItem is the "target" member of a request envelope and the shape of
// every item baton-do returns. A collection has only Collection set; a data
// object has Collection (its parent) and DataObject (its name).
type batonItem struct {
	Collection string        `json:"collection,omitempty"`
	DataObject string        `json:"data_object,omitempty"`
	AVUs       []models.AVU  `json:"avus,omitempty"`
	Access     []batonAccess `json:"access,omitempty"`
	Checksum   string        `json:"checksum,omitempty"`
	Size       int64         `json:"size,omitempty"`
	Contents   []batonItem   `json:"contents,omitempty"`
}

// path returns the absolute archive path the item names.
func (i batonItem) path() string {
	if i.DataObject != "" {
		return gopath.Join(i.Collection, i.DataObject)
	}
	return i.Collection
}

// isCollection reports whether the item names a collection.
func (i batonItem) isCollection() bool {
	return i.DataObject == ""
}

func collectionItem(path string) batonItem {
	return batonItem{Collection: path}
}

func dataObjectItem(path string) batonItem {
	dir, name := gopath.Split(path)
	return batonItem{Collection: gopath.Clean(dir), DataObject: name}
}

type batonEnvelope struct {
	Operation string    `json:"operation"`
	Arguments batonArgs `json:"arguments"`
	Target    batonItem `json:"target"`
}

type batonError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type batonResult struct {
	Single   *batonItem  `json:"single,omitempty"`
	Multiple []batonItem `json:"multiple,omitempty"`
}

type batonResponse struct {
	Operation string       `json:"operation"`
	Error     *batonError  `json:"error,omitempty"`
	Result    *batonResult `json:"result,omitempty"`
}

// stopTimeout bounds how long Stop waits for baton-do to exit after its
// stdin is closed before killing it.
const stopTimeout = 10 * time.Second

// startBaton spawns the baton-do child. The caller must hold c.mu.
func (c *Client) startBaton() error {
	cmd := exec.Command(c.batonPath, "--unbuffered")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &ClientError{Op: "start", Message: err.Error()}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ClientError{Op: "start", Message: err.Error()}
	}

	if err := cmd.Start(); err != nil {
		return &ClientError{Op: "start", Message: fmt.Sprintf("starting %s: %v", c.batonPath, err)}
	}

	c.proc = cmd
	c.stdin = stdin
	c.stdout = bufio.NewReader(stdout)

	c.logger.Debug().Int("pid", cmd.Process.Pid).Msg("Started a new baton-do process")
	return nil
}

// stopBaton closes the child's stdin and waits for it to exit, killing it
// if it has not gone away after stopTimeout. The caller must hold c.mu.
func (c *Client) stopBaton() {
	if c.proc == nil {
		return
	}

	pid := c.proc.Process.Pid
	c.stdin.Close()

	done := make(chan error, 1)
	go func(cmd *exec.Cmd) { done <- cmd.Wait() }(c.proc)

	select {
	case <-done:
		c.logger.Debug().Int("pid", pid).Msg("baton-do process exited")
	case <-time.After(stopTimeout):
		c.logger.Error().Int("pid", pid).Msg("baton-do did not exit; killing")
		c.proc.Process.Kill()
		<-done
	}

	c.proc = nil
	c.stdin = nil
	c.stdout = nil
}

// execute sends one envelope to baton-do and decodes its one-line reply,
// starting the child first if necessary. Requests serialize on c.mu because
// the protocol is strictly request/response over a single pipe pair.
func (c *Client) execute(ctx context.Context, op string, args batonArgs, target batonItem) (*batonResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc == nil {
		c.logger.Debug().Msg("baton-do is not running, starting")
		if err := c.startBaton(); err != nil {
			return nil, err
		}
	}

	envelope := batonEnvelope{Operation: op, Arguments: args, Target: target}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return nil, &ClientError{Op: op, Path: target.path(), Message: err.Error()}
	}

	c.logger.Trace().Str("request", string(encoded)).Msg("Sending to baton-do")

	if _, err := c.stdin.Write(append(encoded, '\n')); err != nil {
		c.stopBaton()
		return nil, &ClientError{Op: op, Path: target.path(), Message: fmt.Sprintf("writing request: %v", err)}
	}

	line, err := c.stdout.ReadBytes('\n')
	if err != nil {
		c.stopBaton()
		return nil, &ClientError{Op: op, Path: target.path(), Message: fmt.Sprintf("reading response: %v", err)}
	}

	c.logger.Trace().Str("response", string(bytes.TrimSpace(line))).Msg("Received from baton-do")

	var response batonResponse
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, &ClientError{Op: op, Path: target.path(), Message: fmt.Sprintf("decoding response: %v", err)}
	}

	if response.Error != nil {
		return nil, &ClientError{
			Op:      op,
			Path:    target.path(),
			Message: response.Error.Message,
			Code:    response.Error.Code,
		}
	}
	if response.Result == nil {
		return nil, &ClientError{Op: op, Path: target.path(), Message: "invalid operation result (no result)"}
	}

	return response.Result, nil
}
