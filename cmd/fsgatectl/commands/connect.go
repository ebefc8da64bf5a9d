package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/veldtlabs/fsgate/pkg/client"
	"github.com/veldtlabs/fsgate/pkg/protocol"
)

var (
	connectAddr    string
	connectUser    string
	connectToken   string
	connectTimeout time.Duration
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open an interactive session",
	Long: `Connect to an FSGate server and start an interactive shell.

Connection attempts retry with exponential backoff until --connect-timeout
elapses. When --token is omitted you are prompted for it; leave the prompt
empty for a readonly session.

Shell commands:
  ping                      check connectivity
  list [dir]                list directory contents
  read <file>               print a file as text
  download <file> [local]   fetch a file to disk
  upload <local> <remote>   send a file (admin)
  delete <file>             remove a file (admin)
  search <keyword>          find files by name (admin)
  info <file>               show file metadata (admin)
  help                      show this list
  quit                      close the session`,
}

func init() {
	connectCmd.RunE = runConnect
	connectCmd.Flags().StringVarP(&connectAddr, "addr", "a", "127.0.0.1:9099", "server address (host:port)")
	connectCmd.Flags().StringVarP(&connectUser, "user", "u", "guest", "username for the handshake")
	connectCmd.Flags().StringVarP(&connectToken, "token", "t", "", "token for the handshake (prompted when omitted)")
	connectCmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 30*time.Second, "give up connecting after this long")
}

func runConnect(cmd *cobra.Command, args []string) error {
	token := connectToken
	if token == "" {
		prompt := promptui.Prompt{
			Label: "Token (empty for readonly)",
			Mask:  '*',
		}
		entered, err := prompt.Run()
		if err != nil {
			return err
		}
		token = entered
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	c, err := client.Dial(ctx, connectAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Handshake(connectUser, token); err != nil {
		return err
	}
	fmt.Printf("Connected to %s as %s (%s), serving %s\n",
		connectAddr, connectUser, c.Role, c.ServerRoot)

	return repl(c)
}

func repl(c *client.Client) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	for {
		fmt.Print("fsgate> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := strings.ToLower(fields[0]), fields[1:]

		switch cmd {
		case "quit", "exit":
			return nil
		case "help":
			fmt.Println(connectCmd.Long)
			continue
		case "upload":
			if len(args) != 2 {
				fmt.Println("usage: upload <local> <remote>")
				continue
			}
			resp, err := c.Upload(args[0], args[1])
			if err != nil {
				return err
			}
			printResponse("upload", resp)
			continue
		case "download":
			if len(args) < 1 {
				fmt.Println("usage: download <file> [local]")
				continue
			}
			local := ""
			if len(args) > 1 {
				local = args[1]
			}
			saved, err := c.Download(args[0], local)
			if err != nil {
				fmt.Printf("download failed: %v\n", err)
				continue
			}
			fmt.Printf("saved %s\n", saved)
			continue
		}

		resp, err := c.Do(cmd, args...)
		if err != nil {
			return err
		}
		printResponse(cmd, resp)
	}
}

func printResponse(cmd string, resp protocol.Response) {
	if !resp.OK {
		fmt.Printf("error: %s\n", resp.Error)
		return
	}

	switch cmd {
	case "list":
		printListing(resp.Data)
	case "search":
		printMatches(resp.Data)
	case "info":
		printInfo(resp.Data)
	case "read":
		fmt.Println(resp.Data)
	default:
		data, err := json.Marshal(resp.Data)
		if err != nil {
			fmt.Println(resp.Data)
			return
		}
		fmt.Println(string(data))
	}
}

func printListing(data any) {
	var entries []protocol.ListEntry
	if !reshape(data, &entries) {
		fmt.Println(data)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Type", "Size"})
	for _, entry := range entries {
		kind := "file"
		if entry.IsDir {
			kind = "dir"
		}
		table.Append([]string{entry.Name, kind, fmt.Sprintf("%d", entry.Size)})
	}
	table.Render()
}

func printMatches(data any) {
	var matches []string
	if !reshape(data, &matches) {
		fmt.Println(data)
		return
	}
	if len(matches) == 0 {
		fmt.Println("no matches")
		return
	}
	for _, m := range matches {
		fmt.Println(m)
	}
}

func printInfo(data any) {
	var info protocol.FileInfo
	if !reshape(data, &info) {
		fmt.Println(data)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Append([]string{"Name", info.Name})
	table.Append([]string{"Size", fmt.Sprintf("%d", info.Size)})
	table.Append([]string{"Directory", fmt.Sprintf("%t", info.IsDir)})
	table.Append([]string{"Created", info.Created})
	table.Append([]string{"Modified", info.Modified})
	table.Render()
}

// reshape converts generic JSON reply data into a concrete type.
func reshape(data, target any) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, target) == nil
}
