package domain

import (
	"strings"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
)

// Command names a player action submitted to the contract.
type Command string

const (
	CommandMint  Command = "mint"
	CommandStart Command = "start"
	CommandRoll  Command = "roll"
	CommandClaim Command = "claim"
	CommandEnd   Command = "end"
	CommandBurn  Command = "burn"
)

// PlayCommands lists the commands a player issues without arguments.
func PlayCommands() []Command {
	return []Command{CommandMint, CommandStart, CommandRoll, CommandClaim, CommandEnd}
}

// ParseCommand accepts a command name in any case.
func ParseCommand(raw string) (Command, error) {
	command := Command(strings.ToLower(strings.TrimSpace(raw)))
	switch command {
	case CommandMint, CommandStart, CommandRoll, CommandClaim, CommandEnd, CommandBurn:
		return command, nil
	case "":
		return "", apperrors.New(apperrors.CodeInvalidArgument, "command is required")
	default:
		return "", apperrors.WithMetadata(apperrors.CodeInvalidArgument, "unknown command "+string(command),
			map[string]string{"command": string(command)})
	}
}
