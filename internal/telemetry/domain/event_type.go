package domain

// EventType is the catalog of event names emitted by the SDK collaborators.
type EventType string

const (
	EventClick                  EventType = "Click"
	EventPageView               EventType = "Pageview"
	EventWallet                 EventType = "Wallet"
	EventClosed                 EventType = "Closed"
	EventMainButtonPressed      EventType = "MainButtonPressed"
	EventSettingsButtonPressed  EventType = "SettingsButtonPressed"
	EventInvoiceClosed          EventType = "InvoiceClosed"
	EventInvoiceOpened          EventType = "Invoice opened"
	EventPopupClosed            EventType = "PopupClosed"
	EventClipboardTextReceived  EventType = "ClipboardTextReceived"
	EventWriteAccessRequested   EventType = "WriteAccessRequested"
	EventQRTextReceived         EventType = "QRTextReceived"
	EventPhoneRequested         EventType = "PhoneRequested"
	EventBackButtonPressed      EventType = "BackButtonPressed"
	EventSecondaryButtonPressed EventType = "SeconadaryButtonPressed" // wire value kept as deployed
	EventPreparedMessageSent    EventType = "PreparedMessageSent"
	EventFullScreenChanged      EventType = "FullScreenChanged"
	EventHomeScreenAdded        EventType = "HomeScreenAdded"
	EventHomeScreenChecked      EventType = "HomeScreenChecked"
	EventEmojiStatusSet         EventType = "EmojiStatusSet"
	EventLocationChecked        EventType = "LocationChecked"
	EventLocationRequested      EventType = "LocationRequested"
	EventRequestFullscreen      EventType = "Fullscreen on"
	EventExitFullscreen         EventType = "Fullscreen off"
	EventSwitchInlineQuery      EventType = "Inline query opened"
	EventShareToStory           EventType = "Story shared"
	EventSessionStart           EventType = "Session start"
	EventSessionEnd             EventType = "Session end"

	EventWalletConnectStarted             EventType = "Wallet connect started"
	EventWalletConnected                  EventType = "Wallet connected"
	EventWalletConnectError               EventType = "Wallet connect error"
	EventWalletConnectionRestoringStarted EventType = "Wallet connection restoring started"
	EventWalletConnectionRestored         EventType = "Wallet connection restored"
	EventWalletConnectionRestoreError     EventType = "Wallet connection restore error"
	EventWalletDisconnected               EventType = "Wallet disconnected"

	EventTransactionSentForSignature EventType = "Transaction sent for signature"
	EventTransactionSigned           EventType = "Transaction signed"
	EventTransactionSigningFailed    EventType = "Transaction signing failed"
)

// TonConnectEvent is the name a TonConnect UI dispatches for wallet lifecycle changes.
type TonConnectEvent string

const (
	TonConnectStarted            TonConnectEvent = "connection-started"
	TonConnectCompleted          TonConnectEvent = "connection-completed"
	TonConnectError              TonConnectEvent = "connection-error"
	TonConnectRestoringStarted   TonConnectEvent = "connection-restoring-started"
	TonConnectRestoringCompleted TonConnectEvent = "connection-restoring-completed"
	TonConnectRestoringError     TonConnectEvent = "connection-restoring-error"
	TonConnectDisconnection      TonConnectEvent = "disconnection"
	TonConnectTxSentForSignature TonConnectEvent = "transaction-sent-for-signature"
	TonConnectTxSigned           TonConnectEvent = "transaction-signed"
	TonConnectTxSigningFailed    TonConnectEvent = "transaction-signing-failed"
)

var tonConnectEventTypes = map[TonConnectEvent]EventType{
	TonConnectStarted:            EventWalletConnectStarted,
	TonConnectCompleted:          EventWalletConnected,
	TonConnectError:              EventWalletConnectError,
	TonConnectRestoringStarted:   EventWalletConnectionRestoringStarted,
	TonConnectRestoringCompleted: EventWalletConnectionRestored,
	TonConnectRestoringError:     EventWalletConnectionRestoreError,
	TonConnectDisconnection:      EventWalletDisconnected,
	TonConnectTxSentForSignature: EventTransactionSentForSignature,
	TonConnectTxSigned:           EventTransactionSigned,
	TonConnectTxSigningFailed:    EventTransactionSigningFailed,
}

// EventTypeFor maps a TonConnect event to the catalog name tracked for it.
func (e TonConnectEvent) EventTypeFor() (EventType, bool) {
	t, ok := tonConnectEventTypes[e]
	return t, ok
}
