// Package cuddle holds the compiled-in companion reference data: the four
// personas, their scripted journal lines, and the farewell tables.
package cuddle

type ID string

const (
	EllieSr ID = "ellie-sr"
	EllieJr ID = "ellie-jr"
	OllySr  ID = "olly-sr"
	OllyJr  ID = "olly-jr"
)

// WelcomeBackMessage is the synthesized assistant turn shown when a guided
// entry already exists for today. The exact wording is load-bearing: the
// journal view matches on it when the user chooses Continue.
const WelcomeBackMessage = "Welcome back! Would you like to continue or finish our conversation?"

// Cuddle is immutable persona reference data. There is no create/update
// lifecycle; the table below is the whole population.
type Cuddle struct {
	ID     ID
	Name   string
	Avatar string
	// Traits feeds the completion system prompt.
	Traits string
	// Intro and Prompt are the scripted scene-setting pair shown before the
	// first user turn. They are UI lines, not model output.
	Intro  string
	Prompt string
}

type FarewellVariant string

const (
	// FarewellFinish is used when the user explicitly ends the entry.
	FarewellFinish FarewellVariant = "finish"
	// FarewellForce is used when the exchange ceiling force-ends the
	// conversation.
	FarewellForce FarewellVariant = "force"
)

var cuddles = map[ID]Cuddle{
	EllieSr: {
		ID:     EllieSr,
		Name:   "Ellie Sr.",
		Avatar: "/assets/cuddles/ellie-sr.png",
		Traits: "a gentle, grandmotherly elephant who listens patiently, never judges, and offers small practical comforts",
		Intro:  "Hello dear, it's so lovely to see you. I've been keeping your spot warm.",
		Prompt: "How was your day today? I'd love to hear about it, big or small.",
	},
	EllieJr: {
		ID:     EllieJr,
		Name:   "Ellie Jr.",
		Avatar: "/assets/cuddles/ellie-jr.png",
		Traits: "a curious, playful young elephant who asks bright questions and celebrates tiny wins",
		Intro:  "Hi hi! I was hoping you'd come by today!",
		Prompt: "So, what happened today? Tell me everything!",
	},
	OllySr: {
		ID:     OllySr,
		Name:   "Olly Sr.",
		Avatar: "/assets/cuddles/olly-sr.png",
		Traits: "a calm, thoughtful old owl who reflects things back slowly and helps name feelings",
		Intro:  "Good to see you again. Take a breath, there's no hurry here.",
		Prompt: "When you think back over today, what stands out to you?",
	},
	OllyJr: {
		ID:     OllyJr,
		Name:   "Olly Jr.",
		Avatar: "/assets/cuddles/olly-jr.png",
		Traits: "an earnest, slightly clumsy owlet who cheers people on and keeps things light",
		Intro:  "You're here! I saved you the comfy branch.",
		Prompt: "Okay, today: what's one thing you want to get off your chest?",
	},
}

var finishFarewells = map[ID]string{
	EllieSr: "Thank you for sharing your day with me, dear. Rest well, and I'll be right here tomorrow.",
	EllieJr: "This was so nice! Sleep tight, and come tell me more tomorrow, okay?",
	OllySr:  "Thank you for sitting with your thoughts today. Carry them lightly, and rest.",
	OllyJr:  "You did great today! Go get some rest, I'll keep the branch warm.",
}

var forcedFarewells = map[ID]string{
	EllieSr: "We've talked about so much today, dear. Let's tuck these thoughts in for the night and pick them up tomorrow.",
	EllieJr: "Wow, we talked a LOT today! Let's save the rest for tomorrow, deal?",
	OllySr:  "We've covered a great deal. Let it settle overnight; we can return to it tomorrow.",
	OllyJr:  "Phew, that was a big chat! Let's land here for today and swoop back in tomorrow.",
}

// ByID looks up a persona.
func ByID(id ID) (Cuddle, bool) {
	c, ok := cuddles[id]
	return c, ok
}

func IsValid(id ID) bool {
	_, ok := cuddles[id]
	return ok
}

// All returns the personas in a stable display order.
func All() []Cuddle {
	return []Cuddle{cuddles[EllieSr], cuddles[EllieJr], cuddles[OllySr], cuddles[OllyJr]}
}

// FarewellMessage returns the closing line for a persona. An unknown id
// falls back to the ellie-sr string rather than failing; the farewell is
// cosmetic and must never block saving an entry.
func FarewellMessage(id ID, variant FarewellVariant) string {
	table := finishFarewells
	if variant == FarewellForce {
		table = forcedFarewells
	}
	if msg, ok := table[id]; ok {
		return msg
	}
	return table[EllieSr]
}
