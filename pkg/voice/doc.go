// Package voice provides a unified interface for streaming speech providers.
//
// The package abstracts both plain ASR backends and full speech-to-speech
// backends behind a common Adapter interface, so the relay's connection
// manager can drive either lane with the same code.
//
// # Supported Providers
//
//   - Deepgram streaming ASR: partial and final transcripts only
//   - OpenAI Realtime: transcripts, model audio, and tool calls in one socket
//
// # Usage
//
// Create an adapter through the registry:
//
//	adapter, err := voice.New(voice.DefaultDeepgramConfig("dg-key"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	adapter.OnTranscript(func(ev voice.TranscriptEvent) {
//	    fmt.Printf("heard: %s (final=%v)\n", ev.Text, ev.IsFinal)
//	})
//
//	if err := adapter.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer adapter.Stop()
//
//	for frame := range microphone {
//	    adapter.SendAudio(frame)
//	}
//
// Adapters guarantee that empty final transcripts are dropped before the
// OnTranscript callback fires.
package voice
