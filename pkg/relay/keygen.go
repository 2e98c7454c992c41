package relay

import (
	crand "crypto/rand"
	"fmt"
	"math/rand"
)

var adjectives = []string{
	"QUICK", "LAZY", "HAPPY", "CALM", "BRAVE",
	"BRIGHT", "COOL", "DARK", "EAGER", "FAIR",
	"GENTLE", "GRAND", "GREAT", "GREEN", "BLUE",
	"RED", "GOLD", "SILVER", "WARM", "WILD",
}

var nouns = []string{
	"FROG", "TIGER", "RIVER", "CLOUD", "STONE",
	"LEAF", "BIRD", "FISH", "WOLF", "BEAR",
	"HAWK", "DEER", "LION", "EAGLE", "WHALE",
	"PANDA", "KOALA", "OTTER", "SNAKE", "SHARK",
}

// Key words - simple, memorable words an operator can read out loud
var keyWords = []string{
	"tiger", "apple", "river", "cloud", "stone",
	"flame", "ocean", "piano", "robot", "honey",
	"grape", "lemon", "maple", "north", "solar",
	"storm", "zebra", "delta", "omega", "lunar",
	"coral", "frost", "bloom", "spark", "wave",
}

// GenerateName creates a relay instance name in ADJECTIVE-NOUN format
func GenerateName() string {
	return fmt.Sprintf("%s-%s", adjectives[rand.Intn(len(adjectives))], nouns[rand.Intn(len(nouns))])
}

// GenerateKey creates a shared key in word-word-NN format (e.g., "tiger-lemon-42")
func GenerateKey() string {
	return fmt.Sprintf("%s-%s-%02d",
		keyWords[rand.Intn(len(keyWords))],
		keyWords[rand.Intn(len(keyWords))],
		rand.Intn(100))
}

// randomSecret signs tokens when no JWT secret is configured
func randomSecret() []byte {
	b := make([]byte, 32)
	crand.Read(b)
	return b
}
