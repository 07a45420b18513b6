package imap

import (
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/commands"
)

// expungeCommand is the EXPUNGE variant that takes a sequence set. It is only
// valid wrapped in UID (RFC 4315).
type expungeCommand struct {
	SeqSet *imap.SeqSet
}

func (cmd *expungeCommand) Command() *imap.Command {
	return &imap.Command{
		Name:      "EXPUNGE",
		Arguments: []interface{}{cmd.SeqSet},
	}
}

// uidExpunge removes only the given UIDs among the \Deleted messages of
// the selected mailbox
func uidExpunge(c Client, seqset *imap.SeqSet) error {
	status, err := c.Execute(&commands.Uid{Cmd: &expungeCommand{SeqSet: seqset}}, nil)
	if err != nil {
		return err
	}
	return status.Err()
}
