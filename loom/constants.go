package loom

// SDK metadata.
const (
	sdkName = "loom-sdk-go"

	// Version is the SDK release version reported in trace resources.
	Version = "0.4.0"

	AttrSDKName    = "loom.sdk.name"
	AttrSDKVersion = "loom.sdk.version"
)

// GenAI semantic convention attribute keys.
const (
	AttrOperationName     = "gen_ai.operation.name"
	AttrProviderName      = "gen_ai.provider.name"
	AttrRequestModel      = "gen_ai.request.model"
	AttrRequestTools      = "gen_ai.request.tools"
	AttrRequestAgentName  = "gen_ai.request.assistant_name"
	AttrResponseID        = "gen_ai.response.id"
	AttrResponseModel     = "gen_ai.response.model"
	AttrFinishReasons     = "gen_ai.response.finish_reasons"
	AttrSystemFingerprint = "gen_ai.openai.response.system_fingerprint"
	AttrServiceTier       = "gen_ai.openai.response.service_tier"
	AttrConversationID    = "gen_ai.conversation.id"
	AttrUsageInputTokens  = "gen_ai.usage.input_tokens"
	AttrUsageOutputTokens = "gen_ai.usage.output_tokens"
	AttrAgentName         = "gen_ai.agent.name"
	AttrAgentDescription  = "gen_ai.agent.description"
	AttrAgentID           = "gen_ai.agent.id"
	AttrAgentVersion      = "gen_ai.agent.version"
	AttrSessionID         = "gen_ai.session.id"
	AttrEventContent      = "gen_ai.event.content"
	AttrMessageRole       = "gen_ai.message.role"
	AttrTokenType         = "gen_ai.token.type"
	AttrItemID            = "gen_ai.conversation.item.id"
	AttrItemType          = "gen_ai.conversation.item.type"
	AttrItemRole          = "gen_ai.conversation.item.role"

	AttrServerAddress = "server.address"
	AttrServerPort    = "server.port"
	AttrErrorType     = "error.type"
)

// Span event names. Message events follow the gen_ai.{role}.message pattern;
// these are the fixed ones.
const (
	eventToolMessage       = "gen_ai.tool.message"
	eventAssistantMessage  = "gen_ai.assistant.message"
	eventUserMessage       = "gen_ai.user.message"
	eventSystemInstruction = "gen_ai.system_instruction"
	eventConversationItem  = "gen_ai.conversation.item"
)

// Operation names used in span names and metric attributes.
const (
	opResponses     = "responses"
	opCreateConv    = "create_conversation"
	opListConvItems = "list_conversation_items"
	opCreateAgent   = "create_agent"
)

// providerName identifies the instrumented API family on every span,
// event, and metric data point.
const providerName = "openai"

// Metric instrument names.
const (
	metricOperationDuration = "gen_ai.client.operation.duration"
	metricTokenUsage        = "gen_ai.client.token.usage"
)

// Environment variable names.
const (
	EnvAPIKey      = "LOOM_API_KEY"
	EnvEndpoint    = "LOOM_ENDPOINT"
	EnvAppName     = "LOOM_APP_NAME"
	EnvEnvironment = "LOOM_ENVIRONMENT"
	EnvEnabled     = "LOOM_ENABLED"

	// EnvCaptureContent follows the OpenTelemetry GenAI convention for
	// opting into message-content capture.
	EnvCaptureContent = "OTEL_INSTRUMENTATION_GENAI_CAPTURE_MESSAGE_CONTENT"

	// EnvInstrumentResponses disables Instrument() entirely when set to
	// anything other than "true". Unset means enabled.
	EnvInstrumentResponses = "LOOM_INSTRUMENT_RESPONSES_API"

	// EnvIncludeBinaryData opts into recording binary payloads (image
	// URLs, file data, generated images) inside event bodies.
	EnvIncludeBinaryData = "LOOM_INCLUDE_BINARY_DATA"
)

// Defaults.
const (
	DefaultEndpoint        = "https://ingest.loomtrace.dev"
	defaultOTLPTracesPath  = "/v1/traces"
	defaultOTLPMetricsPath = "/v1/metrics"
)

const tracerName = "loom.genai"
