package chain

import (
	"sync"
)

// PublisherService is a concurrent-safe service that notifies the
// channels of registered observers. Register observers before Notify.
type PublisherService struct {
	IssueObservers  []chan IssueRequest
	RedeemObservers []chan RedeemRequest
	mu              sync.Mutex
}

func NewPublisherService() *PublisherService {
	return &PublisherService{
		IssueObservers:  make([]chan IssueRequest, 0),
		RedeemObservers: make([]chan RedeemRequest, 0),
	}
}

func (m *PublisherService) RegisterIssueObserver(observer chan IssueRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.IssueObservers = append(m.IssueObservers, observer)
}

func (m *PublisherService) RegisterRedeemObserver(observer chan RedeemRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RedeemObservers = append(m.RedeemObservers, observer)
}

func (m *PublisherService) NotifyIssue(ev IssueRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, observer := range m.IssueObservers {
		select {
		case observer <- ev:
		default:
			// observer is busy, do not hold up the watcher
			go func(obs chan IssueRequest) {
				obs <- ev
			}(observer)
		}
	}
}

func (m *PublisherService) NotifyRedeem(ev RedeemRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, observer := range m.RedeemObservers {
		select {
		case observer <- ev:
		default:
			go func(obs chan RedeemRequest) {
				obs <- ev
			}(observer)
		}
	}
}
