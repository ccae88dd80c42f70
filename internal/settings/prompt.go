package settings

// DefaultPrompt asks for a short side-story scene about the latest reply.
const DefaultPrompt = `Based on the most recent reply in this conversation, write a short "little theater" scene: a playful behind-the-scenes vignette of the characters, as if the story were a stage play and we were peeking backstage.

Requirements:
- Stay in character; keep the tone light and consistent with the story so far.
- Write 150 to 300 words.
- Format as a script: character names in bold, stage directions in parentheses.
- Do not continue the main plot and do not repeat the reply.
- Output only the scene, starting with a line "--- Little Theater ---".`
