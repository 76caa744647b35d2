package command

func NewCommands(
	speakers *LastSpeakers,
	registry SpeakerRegistry,
	participants Participants,
) []Command {
	return []Command{
		NewTeachCommand(speakers, registry),
		NewWhoCommand(participants, registry),
		NewApproveCommand(registry),
	}
}
