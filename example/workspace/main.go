// Command workspace wires a workspace tool server and a client together over
// an in-process pipe pair, guarding every tool call with a circuit breaker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/hollowbeak/toolwire"
	"github.com/hollowbeak/toolwire/breaker"
	"github.com/hollowbeak/toolwire/servers/workspace"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	root, err := os.MkdirTemp("", "workspace-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(root)

	if err := os.WriteFile(root+"/hello.txt", []byte("hello, workspace\n"), 0600); err != nil {
		log.Fatal(err)
	}

	provider, err := workspace.NewServer([]string{root})
	if err != nil {
		log.Fatal(err)
	}

	srv := toolwire.NewServer(toolwire.Info{
		Name:    "workspace",
		Version: "1.0",
	}, provider)

	// Crossed pipes: the client's writes become the server's reads and vice
	// versa.
	srvReader, cliWriter := io.Pipe()
	cliReader, srvWriter := io.Pipe()

	go func() {
		if err := srv.ServeStdIO(ctx, srvReader, srvWriter); err != nil {
			log.Print(err)
		}
	}()

	conn := toolwire.NewStdIOConn(cliReader, cliWriter)
	cli := toolwire.NewClient(toolwire.Info{
		Name:    "workspace-example",
		Version: "1.0",
	}, conn)
	defer cli.Close()

	if err := cli.Initialize(ctx); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("connected to %s %s\n", cli.ServerInfo().Name, cli.ServerInfo().Version)

	tools, err := cli.ListTools(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, tool := range tools {
		fmt.Printf("tool: %s\n", tool.Name)
	}

	brk := breaker.New("workspace",
		breaker.WithFailureThreshold(3),
		breaker.WithOpenDuration(5*time.Second),
	)
	brk.OnStateChange(func(change breaker.StateChange) {
		fmt.Printf("breaker %s: %s -> %s\n", change.Name, change.From, change.To)
	})

	args, err := json.Marshal(map[string]string{"path": root + "/hello.txt"})
	if err != nil {
		log.Fatal(err)
	}

	outcome, err := breaker.Run(ctx, brk, func(ctx context.Context) (toolwire.ToolOutcome, error) {
		return cli.CallTool(ctx, toolwire.ToolInvocation{
			Name:      "read_file",
			Arguments: args,
		})
	})
	if err != nil {
		log.Fatal(err)
	}
	if !outcome.Success {
		log.Fatalf("tool failed: %v", outcome.Err)
	}

	var result workspace.ReadFileResult
	if err := json.Unmarshal(outcome.Result, &result); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("read %s:\n%s", result.Path, result.Content)
}
