package gateway

// Intent bit positions, exactly as Discord Gateway v10 documents them.
const (
	IntentGuilds                     = 1 << 0
	IntentGuildMembers                = 1 << 1
	IntentGuildModeration             = 1 << 2
	IntentGuildExpressions            = 1 << 3
	IntentGuildIntegrations           = 1 << 4
	IntentGuildWebhooks               = 1 << 5
	IntentGuildInvites                = 1 << 6
	IntentGuildVoiceStates            = 1 << 7
	IntentGuildPresences              = 1 << 8
	IntentGuildMessages               = 1 << 9
	IntentGuildMessageReactions       = 1 << 10
	IntentGuildMessageTyping          = 1 << 11
	IntentDirectMessages              = 1 << 12
	IntentDirectMessageReactions      = 1 << 13
	IntentDirectMessageTyping         = 1 << 14
	IntentMessageContent              = 1 << 15
	IntentGuildScheduledEvents        = 1 << 16
	IntentAutoModerationConfiguration = 1 << 20
	IntentAutoModerationExecution     = 1 << 21
)

// AllIntents ORs together every documented intent, including privileged
// ones that require verification with Discord to use in production.
const AllIntents = IntentGuilds | IntentGuildMembers | IntentGuildModeration |
	IntentGuildExpressions | IntentGuildIntegrations | IntentGuildWebhooks |
	IntentGuildInvites | IntentGuildVoiceStates | IntentGuildPresences |
	IntentGuildMessages | IntentGuildMessageReactions | IntentGuildMessageTyping |
	IntentDirectMessages | IntentDirectMessageReactions | IntentDirectMessageTyping |
	IntentMessageContent | IntentGuildScheduledEvents |
	IntentAutoModerationConfiguration | IntentAutoModerationExecution

// AllNonPrivilegedIntents is AllIntents minus the three privileged intents
// (GUILD_MEMBERS, GUILD_PRESENCES, MESSAGE_CONTENT).
const AllNonPrivilegedIntents = AllIntents &^ (IntentGuildMembers | IntentGuildPresences | IntentMessageContent)
