package rpccommon

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/go-delve/rdbg/pkg/logflags"
	"github.com/go-delve/rdbg/pkg/wire"
)

// maxMethodName bounds the method frame of a request.
const maxMethodName = 256

// Server answers requests sent by Channel, dispatching them to the
// exported methods of its receivers.
type Server struct {
	log        *logrus.Entry
	methods    map[string]*methodType
	maxPayload int
	upgrader   websocket.Upgrader

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[io.Closer]struct{}
	stopped   bool
	wg        sync.WaitGroup
}

type methodType struct {
	method    reflect.Method
	Rcvr      reflect.Value
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// NewServer returns a server exposing the methods of every receiver in
// rcvrs, see suitableMethods. Requests larger than maxPayload bytes are
// rejected, 0 means no limit.
func NewServer(maxPayload int, rcvrs ...interface{}) *Server {
	s := &Server{
		log:        logflags.RPCLogger(),
		methods:    make(map[string]*methodType),
		maxPayload: maxPayload,
		conns:      make(map[io.Closer]struct{}),
	}
	for _, rcvr := range rcvrs {
		s.suitableMethods(rcvr)
	}
	return s
}

// Methods returns the names of the methods served.
func (s *Server) Methods() []string {
	r := make([]string, 0, len(s.methods))
	for name := range s.methods {
		r = append(r, name)
	}
	return r
}

// Precompute the reflect types for error and the codec interfaces. Can't
// use them directly because TypeOf takes an empty interface value.
var (
	typeOfError       = reflect.TypeOf((*error)(nil)).Elem()
	typeOfMarshaler   = reflect.TypeOf((*wire.Marshaler)(nil)).Elem()
	typeOfUnmarshaler = reflect.TypeOf((*wire.Unmarshaler)(nil)).Elem()
)

// Is this an exported - upper case - name?
func isExported(name string) bool {
	rune, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(rune)
}

// Fills the methods map with the methods of receiver that should be made
// available through the RPC interface.
// These are all the public methods of rcvr that have the signature:
//
//	func (rcvr ReceiverType) Method(in InputType, out *ReplyType) error
//
// where *InputType implements wire.Unmarshaler and *ReplyType implements
// wire.Marshaler.
func (s *Server) suitableMethods(rcvr interface{}) {
	typ := reflect.TypeOf(rcvr)
	rcvrv := reflect.ValueOf(rcvr)
	sname := reflect.Indirect(rcvrv).Type().Name()
	if sname == "" {
		s.log.Errorf("rpc.Register: no service name for type %s", typ)
		return
	}
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mname := method.Name
		mtype := method.Type
		// method must be exported
		if method.PkgPath != "" {
			continue
		}
		// Method needs three ins: receiver, args, *reply.
		if mtype.NumIn() != 3 {
			s.log.Debugf("method %s has wrong number of ins: %d", mname, mtype.NumIn())
			continue
		}
		argType := mtype.In(1)
		if argType.Kind() == reflect.Ptr || !reflect.PtrTo(argType).Implements(typeOfUnmarshaler) {
			s.log.Debugf("method %s argument type can not be decoded: %s", mname, argType)
			continue
		}
		replyType := mtype.In(2)
		if replyType.Kind() != reflect.Ptr || !replyType.Implements(typeOfMarshaler) {
			s.log.Debugf("method %s reply type can not be encoded: %s", mname, replyType)
			continue
		}
		if !isExported(argType.Name()) || !isExported(replyType.Elem().Name()) {
			s.log.Debugf("method %s uses unexported types", mname)
			continue
		}
		// Method needs one out.
		if mtype.NumOut() != 1 {
			s.log.Debugf("method %s has wrong number of outs: %d", mname, mtype.NumOut())
			continue
		}
		// The return type of the method must be error.
		if returnType := mtype.Out(0); returnType != typeOfError {
			s.log.Debugf("method %s returns %s not error", mname, returnType)
			continue
		}
		s.methods[sname+"."+mname] = &methodType{method: method, ArgType: argType, ReplyType: replyType, Rcvr: rcvrv}
	}
}

var errServerStopped = errors.New("server stopped")

// Serve accepts connections on l until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		l.Close()
		return errServerStopped
	}
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	for {
		c, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(c)
		}()
	}
}

// ServeHTTP upgrades the request to a websocket connection and serves it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("websocket upgrade: %v", err)
		return
	}
	s.ServeConn(newWSConn(conn))
}

// ServeConn serves requests on conn until it is closed.
func (s *Server) ServeConn(conn io.ReadWriteCloser) {
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)
	defer conn.Close()

	sending := new(sync.Mutex)
	for {
		name, err := wire.ReadFrame(conn, maxMethodName)
		if err != nil {
			if err != io.EOF {
				s.log.Debugf("rpc: reading request: %v", err)
			}
			return
		}
		payload, err := wire.ReadFrame(conn, s.maxPayload)
		if err != nil {
			s.log.Debugf("rpc: reading request body: %v", err)
			return
		}

		mtype, ok := s.methods[string(name)]
		if !ok {
			s.log.Errorf("rpc: can't find method %s", name)
			s.sendResponse(sending, conn, fmt.Sprintf("rpc: can't find method %s", name), nil)
			continue
		}

		argv := reflect.New(mtype.ArgType)
		if err := wire.Unmarshal(payload, argv.Interface().(wire.Unmarshaler)); err != nil {
			s.sendResponse(sending, conn, err.Error(), nil)
			continue
		}
		replyv := reflect.New(mtype.ReplyType.Elem())
		returnValues := mtype.method.Func.Call([]reflect.Value{mtype.Rcvr, argv.Elem(), replyv})
		if errInter := returnValues[0].Interface(); errInter != nil {
			s.sendResponse(sending, conn, errInter.(error).Error(), nil)
			continue
		}
		body, err := wire.Marshal(replyv.Interface().(wire.Marshaler))
		if err != nil {
			s.sendResponse(sending, conn, err.Error(), nil)
			continue
		}
		s.sendResponse(sending, conn, "", body)
	}
}

func (s *Server) sendResponse(sending *sync.Mutex, conn io.Writer, errmsg string, body []byte) {
	resp, err := wire.Marshal(&envelope{Err: errmsg, Body: body})
	if err != nil {
		s.log.Errorf("rpc: encoding response: %v", err)
		return
	}
	sending.Lock()
	defer sending.Unlock()
	if err := wire.WriteFrame(conn, resp); err != nil {
		s.log.Debugf("rpc: writing response: %v", err)
	}
}

func (s *Server) track(c io.Closer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c io.Closer) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Stop closes every listener and connection and waits for the
// connections accepted by Serve to finish.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, l := range s.listeners {
		l.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
