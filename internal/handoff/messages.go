package handoff

import "github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"

// FallbackMessage is returned when the model cannot be reached.
const FallbackMessage = "I'm having trouble processing your request. Let me connect you with a human agent."

// ForwardedAck acknowledges a customer message routed to a human agent.
const ForwardedAck = "Your message has been passed to a human agent, who will reply here shortly."

// TransitionMessage is the customer-facing notice for a handoff reason.
func TransitionMessage(reason domain.HandoffReason) string {
	switch reason {
	case domain.HandoffRepeatedIntent:
		return "I notice I haven't been able to fully resolve your concern. Let me connect you with a human agent who can help further."
	case domain.HandoffDataGap:
		return "I wasn't able to find the information needed to help you. I'm transferring you to a human agent who can look into this."
	case domain.HandoffHallucinationRisk:
		return "I want to make sure you get accurate information. Let me connect you with a human agent for this request."
	case domain.HandoffCustomerRequested:
		return "I understand you'd like to speak with a supervisor. I'm connecting you with a human agent right away."
	case domain.HandoffModelUnavailable, domain.HandoffMaxIterations:
		return FallbackMessage
	default:
		return "Connecting you with a human agent."
	}
}
