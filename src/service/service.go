package service

import (
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/mosaicnetworks/dsm/src/node"
	"github.com/mosaicnetworks/dsm/src/profile"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// Service exposes the statistics and fault profile of a node over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	router      *mux.Router
	logger      *logrus.Entry
}

// SlotInfo describes the geometry of a memory slot.
type SlotInfo struct {
	BaseVFN uint64
	NPages  uint64
	BaseGFN uint64
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		router:      mux.NewRouter(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering DSM API handlers")
	s.router.HandleFunc("/stats", s.makeHandler(s.GetStats)).Methods(http.MethodGet)
	s.router.HandleFunc("/profile", s.makeHandler(s.GetProfile)).Methods(http.MethodGet)
	s.router.HandleFunc("/profile/reset", s.makeHandler(s.ResetProfile)).Methods(http.MethodPost)
	s.router.HandleFunc("/slots", s.makeHandler(s.GetSlots)).Methods(http.MethodGet)
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the router serving the API.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving DSM API")

	err := http.ListenAndServe(s.bindAddress, s.router)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats returns the node counters along with the resident memory of the
// process.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.Stats()

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			stats["rss"] = strconv.FormatUint(mem.RSS, 10)
		}
	}
	if err != nil {
		s.logger.WithError(err).Debug("process stats unavailable")
	}

	s.writeJSON(w, stats)
}

// GetProfile returns the fault profile. The top query parameter sets the
// number of pages listed.
func (s *Service) GetProfile(w http.ResponseWriter, r *http.Request) {
	top := profile.DefaultTopN

	if param := r.URL.Query().Get("top"); param != "" {
		n, err := strconv.Atoi(param)
		if err != nil || n <= 0 || n > profile.MaxTopN {
			s.logger.WithField("top", param).Error("Parsing top parameter")
			http.Error(w, "invalid top parameter", http.StatusBadRequest)
			return
		}
		top = n
	}

	rep := s.node.Profile().Report(top)

	s.writeJSON(w, rep)
}

// ResetProfile clears the fault profile.
func (s *Service) ResetProfile(w http.ResponseWriter, r *http.Request) {
	s.node.Profile().Reset()

	w.WriteHeader(http.StatusNoContent)
}

// GetSlots lists the memory slots of the node.
func (s *Service) GetSlots(w http.ResponseWriter, r *http.Request) {
	slots := s.node.Table().Slots()

	infos := make([]SlotInfo, 0, len(slots))
	for _, slot := range slots {
		infos = append(infos, SlotInfo{
			BaseVFN: slot.BaseVFN,
			NPages:  slot.NPages,
			BaseGFN: slot.GFN(slot.BaseVFN),
		})
	}

	s.writeJSON(w, infos)
}

func (s *Service) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	jh := new(codec.JsonHandle)
	jh.Canonical = true
	if err := codec.NewEncoder(w, jh).Encode(v); err != nil {
		s.logger.WithError(err).Error("Encoding response")
	}
}
