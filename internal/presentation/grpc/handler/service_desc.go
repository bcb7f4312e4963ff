package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// VoucherServiceName ギフトサービスのフルネーム
	VoucherServiceName = "gift.v1.VoucherService"
	// AdminServiceName 管理サービスのフルネーム
	AdminServiceName = "gift.v1.AdminService"
)

// VoucherServiceServer ギフトサービスのサーバーインターフェース
// メッセージはすべて google.protobuf.Struct
type VoucherServiceServer interface {
	CreateVoucher(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetVoucher(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClaimVoucher(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EndVoucher(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteVoucher(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BuildClaimURI(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ParseClaimURI(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// AdminServiceServer 管理サービスのサーバーインターフェース
type AdminServiceServer interface {
	ExpireVouchers(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryPayouts(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(srv interface{}, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

// unaryHandler Structを受け取るメソッドをgrpc.MethodHandlerに変換する
func unaryHandler(fullMethod string, call structMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv, ctx, req.(*structpb.Struct))
		})
	}
}

func voucherMethod(name string, call func(VoucherServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: unaryHandler("/"+VoucherServiceName+"/"+name, func(srv interface{}, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			return call(srv.(VoucherServiceServer), ctx, in)
		}),
	}
}

func adminMethod(name string, call func(AdminServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: unaryHandler("/"+AdminServiceName+"/"+name, func(srv interface{}, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			return call(srv.(AdminServiceServer), ctx, in)
		}),
	}
}

// VoucherServiceDesc ギフトサービスの定義
var VoucherServiceDesc = grpc.ServiceDesc{
	ServiceName: VoucherServiceName,
	HandlerType: (*VoucherServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		voucherMethod("CreateVoucher", VoucherServiceServer.CreateVoucher),
		voucherMethod("GetVoucher", VoucherServiceServer.GetVoucher),
		voucherMethod("ClaimVoucher", VoucherServiceServer.ClaimVoucher),
		voucherMethod("EndVoucher", VoucherServiceServer.EndVoucher),
		voucherMethod("DeleteVoucher", VoucherServiceServer.DeleteVoucher),
		voucherMethod("BuildClaimURI", VoucherServiceServer.BuildClaimURI),
		voucherMethod("ParseClaimURI", VoucherServiceServer.ParseClaimURI),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gift/v1/voucher.proto",
}

// AdminServiceDesc 管理サービスの定義
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		adminMethod("ExpireVouchers", AdminServiceServer.ExpireVouchers),
		adminMethod("RetryPayouts", AdminServiceServer.RetryPayouts),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gift/v1/admin.proto",
}

// RegisterVoucherServiceServer ギフトサービスを登録
func RegisterVoucherServiceServer(s grpc.ServiceRegistrar, srv VoucherServiceServer) {
	s.RegisterService(&VoucherServiceDesc, srv)
}

// RegisterAdminServiceServer 管理サービスを登録
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}
