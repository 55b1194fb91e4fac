package mqttcore

// flowController limits outbound QoS 1 and QoS 2 publishes that are sent
// but not yet acknowledged. Independent of the overall limit, only one
// QoS 2 publish may be in flight at a time; further ones wait until it
// completes.
//
// It has no lock of its own. The client mutex guards every call.
type flowController struct {
	maxInflight uint16
	inFlight    uint16
	qos2Busy    bool
}

// newFlowController allows maxInflight unacknowledged publishes. Zero
// means the protocol maximum of 65535.
func newFlowController(maxInflight uint16) *flowController {
	if maxInflight == 0 {
		maxInflight = maxPacketID
	}
	return &flowController{
		maxInflight: maxInflight,
	}
}

func (f *flowController) canSend(qos byte) bool {
	if f.inFlight >= f.maxInflight {
		return false
	}
	return qos != 2 || !f.qos2Busy
}

// acquire takes a slot for a publish of the given QoS. It reports false
// when the window is full or a QoS 2 exchange is already running.
func (f *flowController) acquire(qos byte) bool {
	if !f.canSend(qos) {
		return false
	}
	f.inFlight++
	if qos == 2 {
		f.qos2Busy = true
	}
	return true
}

func (f *flowController) release(qos byte) {
	if f.inFlight > 0 {
		f.inFlight--
	}
	if qos == 2 {
		f.qos2Busy = false
	}
}

func (f *flowController) reset() {
	f.inFlight = 0
	f.qos2Busy = false
}
