package queue

import "hash/fnv"

// Visual is the deterministic emoji assigned to a session for quick
// disambiguation in chat. Assigned on first sighting and stable for the
// session's lifetime within the process.
type Visual string

// palette is the fixed set of session markers. Chosen for visual
// distinctness at Telegram's small rendering size.
var palette = []Visual{
	"🔵", "🟢", "🟡", "🟣", "🟠", "🔴", "🟤", "⚪",
	"🔷", "💚", "⭐", "💜", "🧡", "❤️", "🤎", "🩶",
}

// visualFor hashes a session id into the palette.
func visualFor(session string) Visual {
	h := fnv.New32a()
	h.Write([]byte(session))
	return palette[h.Sum32()%uint32(len(palette))]
}
