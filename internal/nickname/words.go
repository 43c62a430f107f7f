package nickname

var defaultAdjectives = []string{
	"Calm", "Zen", "Serene", "Gentle", "Mellow", "Sunny", "Cozy", "Bright",
	"Quiet", "Kind", "Brave", "Hopeful", "Tranquil", "Peaceful", "Mindful", "Joyful",
	"Steady", "Warm", "Soft", "Radiant", "Cheerful", "Patient", "Graceful", "Tender",
	"Breezy", "Golden", "Dreamy", "Lucky", "Humble", "Wise", "Curious", "Easy",
}

var defaultAnimals = []string{
	"Owl", "Panda", "Fox", "Otter", "Koala", "Dolphin", "Deer", "Robin",
	"Turtle", "Whale", "Bunny", "Sparrow", "Hedgehog", "Lynx", "Swan", "Bear",
	"Seal", "Finch", "Heron", "Wren", "Lamb", "Kitten", "Puffin", "Badger",
	"Crane", "Dove", "Llama", "Sloth", "Tiger", "Raven", "Moose", "Quokka",
}

// blockedTerms are rejected anywhere in a nickname, case-insensitively.
var blockedTerms = []string{
	"admin", "administrator", "moderator", "official", "staff", "support", "kindred", "system",
}
