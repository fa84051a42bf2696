package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/salon-booking-bot/internal/messaging"
)

type scriptedChat struct {
	responses []*genai.GenerateContentResponse
	err       error
	sent      [][]genai.Part
}

func (c *scriptedChat) SendMessage(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	c.sent = append(c.sent, parts)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return respond(genai.Text("done")), nil
	}
	next := c.responses[0]
	c.responses = c.responses[1:]
	return next, nil
}

func respond(parts ...genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: parts}}}}
}

func scriptedAssistant(t *testing.T, c *scriptedChat, registry *Registry) (*GeminiAssistant, *[]*genai.Content, *string) {
	t.Helper()
	var history []*genai.Content
	var system string
	a := newAssistant(func(sys string, h []*genai.Content) chat {
		system, history = sys, h
		return c
	}, registry, 0, nil)
	return a, &history, &system
}

func TestRespondRunsToolsThenAnswers(t *testing.T) {
	f := newToolFixture()
	f.catalog.services = nil
	c := &scriptedChat{responses: []*genai.GenerateContentResponse{
		respond(genai.FunctionCall{Name: ToolGetServices, Args: map[string]any{}}),
		respond(genai.Text("We offer cuts and colour.")),
	}}
	a, _, system := scriptedAssistant(t, c, f.registry)

	reply, err := a.Respond(context.Background(), testSession(), nil, "what do you do?")
	require.NoError(t, err)
	assert.Equal(t, "We offer cuts and colour.", reply.Text)
	assert.Equal(t, ToolGetServices, reply.LastTool)
	assert.Equal(t, 1, reply.ToolCalls)
	assert.Contains(t, *system, "Salone Bella")

	require.Len(t, c.sent, 2)
	fr, ok := c.sent[1][0].(genai.FunctionResponse)
	require.True(t, ok)
	assert.Equal(t, ToolGetServices, fr.Name)
	assert.Equal(t, 0, fr.Response["count"])
}

func TestRespondStopsAfterMaxRounds(t *testing.T) {
	f := newToolFixture()
	loop := make([]*genai.GenerateContentResponse, 0, 10)
	for i := 0; i < 10; i++ {
		loop = append(loop, respond(genai.FunctionCall{Name: ToolGetCenterInfo}))
	}
	c := &scriptedChat{responses: loop}
	a, _, _ := scriptedAssistant(t, c, f.registry)

	reply, err := a.Respond(context.Background(), testSession(), nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, exhaustedReply, reply.Text)
	assert.Equal(t, defaultMaxRounds, reply.ToolCalls)
	assert.Len(t, c.sent, defaultMaxRounds+1)
}

func TestRespondEmptyReply(t *testing.T) {
	c := &scriptedChat{responses: []*genai.GenerateContentResponse{respond()}}
	a, _, _ := scriptedAssistant(t, c, newToolFixture().registry)
	_, err := a.Respond(context.Background(), testSession(), nil, "hi")
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestRespondSendError(t *testing.T) {
	c := &scriptedChat{err: errors.New("quota")}
	a, _, _ := scriptedAssistant(t, c, newToolFixture().registry)
	_, err := a.Respond(context.Background(), testSession(), nil, "hi")
	assert.ErrorContains(t, err, "quota")
}

func TestRespondMapsHistoryRoles(t *testing.T) {
	c := &scriptedChat{}
	a, history, _ := scriptedAssistant(t, c, newToolFixture().registry)
	_, err := a.Respond(context.Background(), testSession(), []messaging.MessageRecord{
		{Direction: messaging.DirectionInbound, Content: "ciao"},
		{Direction: messaging.DirectionOutbound, Content: "hello!"},
		{Direction: messaging.DirectionInbound, Content: "   "},
	}, "book me")
	require.NoError(t, err)
	require.Len(t, *history, 2)
	assert.Equal(t, "user", (*history)[0].Role)
	assert.Equal(t, "model", (*history)[1].Role)
}

func TestDeclarations(t *testing.T) {
	decls := Declarations(newToolFixture().registry.Tools())
	require.Len(t, decls, 10)
	check := decls[0]
	assert.Equal(t, ToolCheckAvailability, check.Name)
	require.NotNil(t, check.Parameters)
	assert.Equal(t, genai.TypeObject, check.Parameters.Type)
	assert.ElementsMatch(t, []string{"date"}, check.Parameters.Required)
	for _, name := range []string{"service_id", "service_name", "staff_id", "staff_name"} {
		assert.Contains(t, check.Parameters.Properties, name)
	}

	for _, d := range decls {
		if d.Name == ToolGetServices {
			assert.Nil(t, d.Parameters)
		}
	}
}

func TestSystemPromptMentionsMissingName(t *testing.T) {
	s := testSession()
	assert.Contains(t, SystemPrompt(s), "Wednesday 2025-05-14")
	s.Client.Name = ""
	assert.Contains(t, SystemPrompt(s), "update_client_name")
}

func TestSystemPromptAsksForIDs(t *testing.T) {
	prompt := SystemPrompt(testSession())
	assert.Contains(t, prompt, "staff_id")
	assert.Contains(t, prompt, "service_id")
}
