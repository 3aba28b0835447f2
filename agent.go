package agentpay

// ServiceTokens is the service the demo trades: the seller prices it per
// unit and the buyer purchases it by quantity
const ServiceTokens = "tokens"

// signOutbound attaches the sender's opaque signature to a message when a
// signer is configured. Messages travel unsigned otherwise; the core
// never verifies signatures either way.
func signOutbound(signer MessageSigner, msg *Message) error {
	if signer == nil {
		return nil
	}
	sig, err := signer.SignMessage(msg.Payload)
	if err != nil {
		return NewProviderCallError("signMessage", err)
	}
	msg.Signature = sig
	return nil
}

// sigFragment shortens a signature for event metadata and log entries
func sigFragment(sig string) string {
	if len(sig) <= 16 {
		return sig
	}
	return sig[:16] + "..."
}
