package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/koscakluka/ema-session/core/events"
	"github.com/spf13/cobra"
)

// payloadTypes maps every event with a payload to the type it decodes into.
var payloadTypes = map[events.Kind]any{
	events.KindError:                  events.TransportError{},
	events.KindProcessingStatus:       events.ProcessingStatus{},
	events.KindAudioStreamStart:       events.AudioStreamStart{},
	events.KindAudioChunk:             events.AudioChunk{},
	events.KindConversationCompleted:  events.ConversationCompleted{},
	events.KindHandoffSuggestion:      events.HandoffSuggestion{},
	events.KindHumanHandoffInitiated:  events.HumanHandoffInitiated{},
	events.KindTextInput:              events.TextInput{},
	events.KindAudioStream:            events.AudioStream{},
	events.KindRequestHumanAssistance: events.RequestHumanAssistance{},
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [event]",
		Short: "Print the JSON schema of event payloads",
		Long:  "Prints the JSON schema of the payload of the named event, or of every event when none is named.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemas, err := payloadSchemas(args)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(schemas)
		},
	}
}

func payloadSchemas(names []string) (map[events.Kind]*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}

	if len(names) == 0 {
		schemas := make(map[events.Kind]*jsonschema.Schema, len(payloadTypes))
		for name, payload := range payloadTypes {
			schemas[name] = reflector.Reflect(payload)
		}
		return schemas, nil
	}

	name := events.Kind(names[0])
	payload, ok := payloadTypes[name]
	if !ok {
		known := make([]string, 0, len(payloadTypes))
		for kind := range payloadTypes {
			known = append(known, string(kind))
		}
		slices.Sort(known)
		return nil, fmt.Errorf("unknown event %q, expected one of %s", name, strings.Join(known, ", "))
	}
	return map[events.Kind]*jsonschema.Schema{name: reflector.Reflect(payload)}, nil
}
