package registry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

func (r *Registry) registerBuiltins() {
	for _, command := range []Command{
		{Name: "ping", Description: "reply with pong", Run: r.ping},
		{Name: "uptime", Description: "show how long the bot has been running", Run: r.uptime},
		{Name: "help", Aliases: []string{"command"}, Description: "list commands, or describe one", Run: r.help},
	} {
		// names are fixed and unique
		_ = r.Register(command)
	}
}

func (r *Registry) ping(ctx context.Context, call Call) error {
	return call.Reply(ctx, "pong")
}

func (r *Registry) uptime(ctx context.Context, call Call) error {
	elapsed := r.clock.Now().Sub(r.startedAt).Truncate(time.Second)
	return call.Reply(ctx, fmt.Sprintf("up %s", elapsed))
}

func (r *Registry) help(ctx context.Context, call Call) error {
	if len(call.Args) > 0 {
		command, ok := r.Lookup(call.Args[0])
		if !ok {
			return call.Reply(ctx, "Command not found.")
		}
		return call.Reply(ctx, describe(r.prefix, command))
	}

	var b strings.Builder
	for i, command := range r.Commands() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s%s - %s", r.prefix, command.Name, command.Description)
	}
	return call.Reply(ctx, b.String())
}

func describe(prefix string, command Command) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s - %s", prefix, command.Name, command.Description)
	if len(command.Aliases) > 0 {
		fmt.Fprintf(&b, "\naliases: %s", strings.Join(command.Aliases, ", "))
	}
	if command.NoPrefix {
		b.WriteString("\nworks without prefix")
	}
	return b.String()
}
