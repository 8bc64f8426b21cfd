package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/meshtalk/meshtalk/internal/chat"
	"github.com/meshtalk/meshtalk/internal/client"
	"github.com/meshtalk/meshtalk/internal/daemon"
	"github.com/meshtalk/meshtalk/internal/session"
	"github.com/meshtalk/meshtalk/internal/store"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := client.New(session.SocketPath(profile))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "qr":
		cmdQR(ctx, c, args[1:])
	case "identity":
		cmdIdentity(ctx, c)
	case "contacts":
		cmdContacts(ctx, c, args[1:], *jsonFlag)
	case "add-contact":
		cmdAddContact(ctx, c, args[1:])
	case "remove-contact":
		requireArgs(args, 2, "meshctl remove-contact <contact-id>")
		fatalOn(c.Delete(ctx, "/v1/contacts/"+args[1]))
		fmt.Println("removed")
	case "chats":
		cmdChats(ctx, c, *jsonFlag)
	case "chat":
		cmdChat(ctx, c, args[1:])
	case "messages":
		cmdMessages(ctx, c, args[1:], *jsonFlag)
	case "send":
		requireArgs(args, 3, "meshctl send <chat-id> <text>")
		var msg store.Message
		fatalOn(c.Post(ctx, "/v1/chats/"+args[1]+"/messages", map[string]string{"content": args[2]}, &msg))
		fmt.Printf("queued %s\n", msg.ID)
	case "send-image":
		cmdSendImage(ctx, c, args[1:])
	case "read":
		requireArgs(args, 2, "meshctl read <chat-id>")
		fatalOn(c.Post(ctx, "/v1/chats/"+args[1]+"/read", nil, nil))
		fmt.Println("marked read")
	case "retry":
		requireArgs(args, 2, "meshctl retry <message-id>")
		fatalOn(c.Post(ctx, "/v1/messages/"+args[1]+"/retry", nil, nil))
		fmt.Println("re-queued")
	case "search":
		cmdSearch(ctx, c, args[1:], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: meshctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show daemon status")
	fmt.Fprintln(os.Stderr, "  identity                    Print the local exchange payload")
	fmt.Fprintln(os.Stderr, "  qr <file.png>               Write the identity QR code to a file")
	fmt.Fprintln(os.Stderr, "  contacts [query]            List or search contacts")
	fmt.Fprintln(os.Stderr, "  add-contact <file|->        Add a contact from an exchange payload")
	fmt.Fprintln(os.Stderr, "  remove-contact <id>         Remove a contact")
	fmt.Fprintln(os.Stderr, "  chats                       List chats")
	fmt.Fprintln(os.Stderr, "  chat direct <contact-id>    Open (or create) a direct chat")
	fmt.Fprintln(os.Stderr, "  chat group <name> <id>...   Create a group chat")
	fmt.Fprintln(os.Stderr, "  messages <chat-id> [limit]  Show a chat's messages")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <text>       Send a text message")
	fmt.Fprintln(os.Stderr, "  send-image <chat-id> <file> Send an image")
	fmt.Fprintln(os.Stderr, "  read <chat-id>              Mark a chat as read")
	fmt.Fprintln(os.Stderr, "  retry <message-id>          Re-queue a failed message")
	fmt.Fprintln(os.Stderr, "  search <query> [chat-id]    Search message history")
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	var st daemon.StatusResponse
	fatalOn(c.Get(ctx, "/v1/status", &st))
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Profile:  %s\n", st.Profile)
	fmt.Printf("Peer ID:  %s\n", st.PeerID)
	fmt.Printf("Nickname: %s\n", st.Nickname)
	fmt.Printf("Link:     %s\n", st.LinkState)
	fmt.Printf("Contacts: %d  Chats: %d  Messages: %d  Queued: %d\n",
		st.Contacts, st.Chats, st.Messages, st.OutboxDepth)
}

func cmdIdentity(ctx context.Context, c *client.Client) {
	data, err := c.GetBytes(ctx, "/v1/identity")
	fatalOn(err)
	fmt.Println(string(data))
}

func cmdQR(ctx context.Context, c *client.Client, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: meshctl qr <file.png>")
		os.Exit(1)
	}
	png, err := c.GetBytes(ctx, "/v1/identity/qr")
	fatalOn(err)
	fatalOn(os.WriteFile(args[0], png, 0644))
	fmt.Printf("wrote %s\n", args[0])
}

func cmdContacts(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	path := "/v1/contacts"
	if len(args) > 0 {
		path += "?q=" + url.QueryEscape(args[0])
	}
	var contacts []chat.ContactView
	fatalOn(c.Get(ctx, path, &contacts))
	if jsonOut {
		outputJSON(contacts)
		return
	}
	for _, ct := range contacts {
		state := "offline"
		if ct.Presence.Online {
			state = fmt.Sprintf("online (signal %d)", ct.Presence.SignalStrength)
		}
		fmt.Printf("%s  %s  %s\n", ct.ID, ct.Nickname, state)
	}
}

func cmdAddContact(ctx context.Context, c *client.Client, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: meshctl add-contact <file|->")
		os.Exit(1)
	}
	var payload []byte
	var err error
	if args[0] == "-" {
		payload, err = io.ReadAll(os.Stdin)
	} else {
		payload, err = os.ReadFile(args[0])
	}
	fatalOn(err)

	var contact store.Contact
	fatalOn(c.PostRaw(ctx, "/v1/contacts", payload, &contact))
	fmt.Printf("added %s (%s)\n", contact.Nickname, contact.ID)
}

func cmdChats(ctx context.Context, c *client.Client, jsonOut bool) {
	var chats []store.Chat
	fatalOn(c.Get(ctx, "/v1/chats", &chats))
	if jsonOut {
		outputJSON(chats)
		return
	}
	for _, ch := range chats {
		name := ch.Name
		if name == "" {
			name = "(direct)"
		}
		unread := ""
		if ch.UnreadCount > 0 {
			unread = fmt.Sprintf("  [%d unread]", ch.UnreadCount)
		}
		fmt.Printf("%s  %-20s  %s%s\n", ch.ID, name, ch.LastMessagePreview, unread)
	}
}

func cmdChat(ctx context.Context, c *client.Client, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: meshctl chat <direct|group> ...")
		os.Exit(1)
	}
	var created store.Chat
	switch args[0] {
	case "direct":
		fatalOn(c.Post(ctx, "/v1/chats/direct", map[string]string{"contact_id": args[1]}, &created))
	case "group":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: meshctl chat group <name> <contact-id>...")
			os.Exit(1)
		}
		body := map[string]any{"name": args[1], "participants": args[2:]}
		fatalOn(c.Post(ctx, "/v1/chats/group", body, &created))
	default:
		fmt.Fprintln(os.Stderr, "usage: meshctl chat <direct|group> ...")
		os.Exit(1)
	}
	fmt.Println(created.ID)
}

func cmdMessages(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: meshctl messages <chat-id> [limit]")
		os.Exit(1)
	}
	path := "/v1/chats/" + args[0] + "/messages"
	if len(args) > 1 {
		if _, err := strconv.Atoi(args[1]); err != nil {
			fmt.Fprintln(os.Stderr, "error: limit must be a number")
			os.Exit(1)
		}
		path += "?limit=" + args[1]
	}
	var msgs []store.Message
	fatalOn(c.Get(ctx, path, &msgs))
	if jsonOut {
		outputJSON(msgs)
		return
	}
	printMessages(msgs)
}

func cmdSendImage(ctx context.Context, c *client.Client, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: meshctl send-image <chat-id> <file>")
		os.Exit(1)
	}
	data, err := os.ReadFile(args[1])
	fatalOn(err)
	body := map[string]any{"file_name": args[1], "data": data}
	var msg store.Message
	fatalOn(c.Post(ctx, "/v1/chats/"+args[0]+"/images", body, &msg))
	fmt.Printf("queued %s\n", msg.ID)
}

func cmdSearch(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: meshctl search <query> [chat-id]")
		os.Exit(1)
	}
	path := "/v1/search?q=" + url.QueryEscape(args[0])
	if len(args) > 1 {
		path += "&chat=" + url.QueryEscape(args[1])
	}
	var msgs []store.Message
	fatalOn(c.Get(ctx, path, &msgs))
	if jsonOut {
		outputJSON(msgs)
		return
	}
	printMessages(msgs)
}

func printMessages(msgs []store.Message) {
	for _, m := range msgs {
		ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
		mesh := ""
		if m.ViaMesh {
			mesh = fmt.Sprintf(" (via mesh, %d hops)", m.Hops)
		}
		content := m.Content
		if content == "" && m.Kind == store.KindImage {
			content = "[image]"
		}
		fmt.Printf("%s  %s  [%s]%s  %s\n", ts, m.SenderID, m.Status, mesh, content)
	}
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatalOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
